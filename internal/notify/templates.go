package notify

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/internal/records"
)

// AppointmentDetails is the booked slot carried by intake confirmations and
// triage alerts.
type AppointmentDetails struct {
	Date      string
	Time      string
	VisitType string
}

// ConfirmationPayload is the patient-facing intake acknowledgement.
type ConfirmationPayload struct {
	FormID      string
	PatientName string
	Email       string
	Urgency     records.Urgency
	Appointment *AppointmentDetails
}

// AppointmentPayload drives booking confirmations, reminders and follow-ups.
type AppointmentPayload struct {
	ExternalEventID string
	PatientName     string
	Email           string
	Date            string
	Time            string
	VisitType       string
}

// TriageAlertPayload is the staff-facing triage summary.
type TriageAlertPayload struct {
	Record      records.TriageRecord
	Email       string
	Phone       string
	DOB         string
	Appointment *AppointmentDetails
	Degraded    bool
}

// Metric is a labelled report value.
type Metric struct {
	Name  string
	Value string
}

// ReportPayload is a rendered analytics report.
type ReportPayload struct {
	Title            string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	ExecutiveSummary string
	Metrics          []Metric
	Trends           []string
	Recommendations  []string
	Alerts           []string
	NextWeekFocus    string
}

// ErrorPayload describes a pipeline failure for the admin.
type ErrorPayload struct {
	Kind       string
	Reference  string
	Err        error
	Details    map[string]string
	OccurredAt time.Time
}

type urgencyStyle struct {
	severity Severity
	color    string
	prefix   string
}

// styleFor maps urgency to presentation. Nothing else affects styling.
func styleFor(u records.Urgency) urgencyStyle {
	switch u {
	case records.UrgencyHigh:
		return urgencyStyle{SeverityCritical, "#d32f2f", "[URGENT] "}
	case records.UrgencyModerate:
		return urgencyStyle{SeverityWarning, "#f57c00", "[Priority] "}
	default:
		return urgencyStyle{SeverityInfo, "#388e3c", ""}
	}
}

// UrgencySeverity returns the severity used for a triage alert.
func UrgencySeverity(u records.Urgency) Severity {
	return styleFor(u).severity
}

// SafetyNotice is the urgency-conditional advice added to patient confirmations.
func SafetyNotice(u records.Urgency) string {
	switch u {
	case records.UrgencyHigh:
		return "If you are experiencing a medical emergency, please call 911 or go to the nearest emergency room immediately."
	case records.UrgencyModerate:
		return "If your symptoms worsen before your visit, please contact us right away."
	default:
		return ""
	}
}

// RenderConfirmation renders the intake acknowledgement sent to the patient.
func RenderConfirmation(clinic config.ClinicIdentity, p ConfirmationPayload) Message {
	subject := fmt.Sprintf("We received your intake form - %s", clinic.Name)

	var text strings.Builder
	fmt.Fprintf(&text, "Dear %s,\n\n", p.PatientName)
	fmt.Fprintf(&text, "Thank you for completing your intake form with %s. Our care team will review it shortly.\n\n", clinic.Name)
	fmt.Fprintf(&text, "Reference: %s\n", p.FormID)
	if p.Appointment != nil {
		writeAppointmentText(&text, clinic, p.Appointment.Date, p.Appointment.Time, p.Appointment.VisitType)
	}
	if notice := SafetyNotice(p.Urgency); notice != "" {
		fmt.Fprintf(&text, "\n%s\n", notice)
	}
	writeContactText(&text, clinic)

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Dear %s,</p>", esc(p.PatientName))
	fmt.Fprintf(&body, "<p>Thank you for completing your intake form with <strong>%s</strong>. Our care team will review it shortly.</p>", esc(clinic.Name))
	body.WriteString(`<table style="width: 100%; border-collapse: collapse;">`)
	body.WriteString(htmlRow("Reference", p.FormID))
	if p.Appointment != nil {
		writeAppointmentRows(&body, clinic, p.Appointment.Date, p.Appointment.Time, p.Appointment.VisitType)
	}
	body.WriteString("</table>")
	if notice := SafetyNotice(p.Urgency); notice != "" {
		fmt.Fprintf(&body, `<p style="padding: 12px; background: #fff3e0; border-left: 4px solid %s;">%s</p>`, styleFor(p.Urgency).color, esc(notice))
	}
	writeContactHTML(&body, clinic)

	return Message{
		Kind:     KindConfirmation,
		To:       p.Email,
		ToName:   p.PatientName,
		Subject:  subject,
		Text:     text.String(),
		HTML:     wrapHTML(clinic, "Intake Received", body.String()),
		Severity: SeverityInfo,
		Title:    subject,
	}
}

// RenderBookingConfirmation renders the booking acknowledgement.
func RenderBookingConfirmation(clinic config.ClinicIdentity, p AppointmentPayload) Message {
	return renderAppointment(clinic, p, KindBookingConfirmation,
		fmt.Sprintf("Your appointment is confirmed - %s", clinic.Name),
		"Appointment Confirmed",
		fmt.Sprintf("Your appointment with %s has been booked.", clinic.Name),
		"Please arrive 10 minutes early and bring a photo ID and your insurance card.")
}

// RenderReminder renders the pre-visit reminder.
func RenderReminder(clinic config.ClinicIdentity, p AppointmentPayload) Message {
	return renderAppointment(clinic, p, KindReminder,
		fmt.Sprintf("Reminder: upcoming appointment at %s", clinic.Name),
		"Appointment Reminder",
		fmt.Sprintf("This is a friendly reminder of your upcoming appointment with %s.", clinic.Name),
		"If you need to reschedule or cancel, please let us know at least 24 hours in advance.")
}

// RenderFollowUp renders the post-visit follow-up.
func RenderFollowUp(clinic config.ClinicIdentity, p AppointmentPayload) Message {
	return renderAppointment(clinic, p, KindFollowUp,
		fmt.Sprintf("Thank you for visiting %s", clinic.Name),
		"How Are You Feeling?",
		fmt.Sprintf("Thank you for your recent visit to %s. We hope you are feeling better.", clinic.Name),
		"If you have questions about your care or would like to book a follow-up visit, just reply to this email or give us a call.")
}

func renderAppointment(clinic config.ClinicIdentity, p AppointmentPayload, kind Kind, subject, heading, intro, outro string) Message {
	var text strings.Builder
	fmt.Fprintf(&text, "Dear %s,\n\n%s\n", p.PatientName, intro)
	writeAppointmentText(&text, clinic, p.Date, p.Time, p.VisitType)
	fmt.Fprintf(&text, "\n%s\n", outro)
	writeContactText(&text, clinic)

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Dear %s,</p><p>%s</p>", esc(p.PatientName), esc(intro))
	body.WriteString(`<table style="width: 100%; border-collapse: collapse;">`)
	writeAppointmentRows(&body, clinic, p.Date, p.Time, p.VisitType)
	body.WriteString("</table>")
	fmt.Fprintf(&body, "<p>%s</p>", esc(outro))
	writeContactHTML(&body, clinic)

	return Message{
		Kind:     kind,
		To:       p.Email,
		ToName:   p.PatientName,
		Subject:  subject,
		Text:     text.String(),
		HTML:     wrapHTML(clinic, heading, body.String()),
		Severity: SeverityInfo,
		Title:    subject,
		Fields: []Field{
			{Label: "Patient", Value: p.PatientName},
			{Label: "Date", Value: PrettyDate(p.Date)},
			{Label: "Time", Value: PrettyTime(p.Time)},
		},
	}
}

// RenderTriageAlert renders the staff alert for a triaged intake.
func RenderTriageAlert(clinic config.ClinicIdentity, p TriageAlertPayload) Message {
	r := p.Record
	style := styleFor(r.Urgency)
	subject := fmt.Sprintf("%sNew patient intake: %s (%s urgency)", style.prefix, r.PatientName, r.Urgency)
	keywords := strings.Join(r.RiskKeywords, ", ")
	if keywords == "" {
		keywords = "none"
	}

	fields := []Field{
		{Label: "Patient", Value: r.PatientName},
		{Label: "Urgency", Value: string(r.Urgency)},
		{Label: "Form ID", Value: r.FormID},
		{Label: "Risk keywords", Value: keywords},
	}
	if p.Email != "" {
		fields = append(fields, Field{Label: "Email", Value: p.Email})
	}
	if p.Phone != "" {
		fields = append(fields, Field{Label: "Phone", Value: p.Phone})
	}
	if p.DOB != "" {
		fields = append(fields, Field{Label: "Date of birth", Value: p.DOB})
	}
	if p.Appointment != nil && p.Appointment.Date != "" {
		fields = append(fields, Field{Label: "Appointment", Value: strings.TrimSpace(PrettyDate(p.Appointment.Date) + " " + PrettyTime(p.Appointment.Time))})
	}
	if r.ProcessedBy != "" {
		fields = append(fields, Field{Label: "Assessed by", Value: r.ProcessedBy})
	}

	sections := []Field{
		{Label: "Reason for visit", Value: r.ReasonForVisit},
		{Label: "Summary", Value: r.Summary},
		{Label: "Recommendations", Value: r.Recommendations},
		{Label: "Follow-up", Value: r.FollowUpNotes},
	}
	if p.Degraded {
		sections = append(sections, Field{Label: "Note", Value: "Automated assessment was incomplete. Please review this intake manually."})
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n", subject)
	for _, f := range fields {
		fmt.Fprintf(&text, "%s: %s\n", f.Label, f.Value)
	}
	for _, s := range sections {
		if s.Value != "" {
			fmt.Fprintf(&text, "\n%s:\n%s\n", s.Label, s.Value)
		}
	}

	var body strings.Builder
	fmt.Fprintf(&body, `<p style="padding: 12px; color: #fff; background: %s; font-weight: bold;">%s urgency</p>`, style.color, esc(string(r.Urgency)))
	body.WriteString(`<table style="width: 100%; border-collapse: collapse;">`)
	for _, f := range fields {
		body.WriteString(htmlRow(f.Label, f.Value))
	}
	body.WriteString("</table>")
	for _, s := range sections {
		if s.Value != "" {
			fmt.Fprintf(&body, "<h3>%s</h3><p>%s</p>", esc(s.Label), esc(s.Value))
		}
	}

	return Message{
		Kind:     KindTriageAlert,
		Subject:  subject,
		Text:     text.String(),
		HTML:     wrapHTML(clinic, "Patient Intake Triage", body.String()),
		Severity: style.severity,
		Title:    fmt.Sprintf("%s urgency intake: %s", r.Urgency, r.PatientName),
		Fields:   fields,
		Sections: sections,
	}
}

// RenderWeeklyReport renders an analytics report for staff.
func RenderWeeklyReport(clinic config.ClinicIdentity, p ReportPayload) Message {
	title := p.Title
	if title == "" {
		title = "Weekly Report"
	}
	period := fmt.Sprintf("%s - %s", p.PeriodStart.Format("Jan 2, 2006"), p.PeriodEnd.Format("Jan 2, 2006"))
	subject := fmt.Sprintf("%s: %s (%s)", clinic.Name, title, period)
	severity := SeverityInfo
	if len(p.Alerts) > 0 {
		severity = SeverityWarning
	}

	fields := make([]Field, 0, len(p.Metrics))
	for _, m := range p.Metrics {
		fields = append(fields, Field{Label: m.Name, Value: m.Value})
	}
	sections := []Field{
		{Label: "Executive summary", Value: p.ExecutiveSummary},
		{Label: "Trends", Value: bulletText(p.Trends)},
		{Label: "Recommendations", Value: bulletText(p.Recommendations)},
		{Label: "Alerts", Value: bulletText(p.Alerts)},
		{Label: "Next week focus", Value: p.NextWeekFocus},
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\nPeriod: %s\n", title, period)
	for _, s := range sections[:1] {
		if s.Value != "" {
			fmt.Fprintf(&text, "\n%s\n", s.Value)
		}
	}
	if len(fields) > 0 {
		text.WriteString("\nKey metrics:\n")
		for _, f := range fields {
			fmt.Fprintf(&text, "- %s: %s\n", f.Label, f.Value)
		}
	}
	for _, s := range sections[1:] {
		if s.Value != "" {
			fmt.Fprintf(&text, "\n%s:\n%s\n", s.Label, s.Value)
		}
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p><strong>Period:</strong> %s</p>", esc(period))
	if p.ExecutiveSummary != "" {
		fmt.Fprintf(&body, "<p>%s</p>", esc(p.ExecutiveSummary))
	}
	if len(fields) > 0 {
		body.WriteString(`<h3>Key Metrics</h3><table style="width: 100%; border-collapse: collapse;">`)
		for _, f := range fields {
			body.WriteString(htmlRow(f.Label, f.Value))
		}
		body.WriteString("</table>")
	}
	writeListHTML(&body, "Trends", p.Trends)
	writeListHTML(&body, "Recommendations", p.Recommendations)
	writeListHTML(&body, "Alerts", p.Alerts)
	if p.NextWeekFocus != "" {
		fmt.Fprintf(&body, "<h3>Next Week Focus</h3><p>%s</p>", esc(p.NextWeekFocus))
	}

	return Message{
		Kind:     KindWeeklyReport,
		Subject:  subject,
		Text:     text.String(),
		HTML:     wrapHTML(clinic, title, body.String()),
		Severity: severity,
		Title:    fmt.Sprintf("%s: %s", title, period),
		Fields:   fields,
		Sections: sections,
	}
}

// RenderErrorAlert renders a pipeline failure for the admin.
func RenderErrorAlert(clinic config.ClinicIdentity, p ErrorPayload) Message {
	subject := fmt.Sprintf("[ERROR] %s: %s", clinic.Name, p.Kind)
	errText := "unknown error"
	if p.Err != nil {
		errText = p.Err.Error()
	}
	occurred := p.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	fields := []Field{
		{Label: "Error type", Value: p.Kind},
		{Label: "Occurred at", Value: occurred.UTC().Format(time.RFC3339)},
	}
	if p.Reference != "" {
		fields = append(fields, Field{Label: "Reference", Value: p.Reference})
	}
	keys := make([]string, 0, len(p.Details))
	for k := range p.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, Field{Label: k, Value: p.Details[k]})
	}
	sections := []Field{{Label: "Error", Value: errText}}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n", subject)
	for _, f := range fields {
		fmt.Fprintf(&text, "%s: %s\n", f.Label, f.Value)
	}
	fmt.Fprintf(&text, "\nError:\n%s\n", errText)

	var body strings.Builder
	body.WriteString(`<table style="width: 100%; border-collapse: collapse;">`)
	for _, f := range fields {
		body.WriteString(htmlRow(f.Label, f.Value))
	}
	body.WriteString("</table>")
	fmt.Fprintf(&body, `<pre style="padding: 12px; background: #f3f4f6; white-space: pre-wrap;">%s</pre>`, esc(errText))

	return Message{
		Kind:     KindErrorAlert,
		Subject:  subject,
		Text:     text.String(),
		HTML:     wrapHTML(clinic, "Processing Error", body.String()),
		Severity: SeverityCritical,
		Title:    fmt.Sprintf("Processing error: %s", p.Kind),
		Fields:   fields,
		Sections: sections,
	}
}

// PrettyDate renders 2006-01-02 as "Monday, January 2, 2006". Other inputs pass through.
func PrettyDate(s string) string {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return t.Format("Monday, January 2, 2006")
}

// PrettyTime renders 24h clock values as "3:04 PM". Other inputs pass through.
func PrettyTime(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("3:04 PM")
		}
	}
	return s
}

func writeAppointmentText(b *strings.Builder, clinic config.ClinicIdentity, date, clock, visitType string) {
	b.WriteString("\nAppointment details:\n")
	fmt.Fprintf(b, "  Date: %s\n", PrettyDate(date))
	fmt.Fprintf(b, "  Time: %s\n", PrettyTime(clock))
	if visitType != "" {
		fmt.Fprintf(b, "  Visit: %s\n", visitType)
	}
	if clinic.Address != "" {
		fmt.Fprintf(b, "  Location: %s\n", clinic.Address)
	}
}

func writeAppointmentRows(b *strings.Builder, clinic config.ClinicIdentity, date, clock, visitType string) {
	b.WriteString(htmlRow("Date", PrettyDate(date)))
	b.WriteString(htmlRow("Time", PrettyTime(clock)))
	if visitType != "" {
		b.WriteString(htmlRow("Visit", visitType))
	}
	if clinic.Address != "" {
		b.WriteString(htmlRow("Location", clinic.Address))
	}
}

func writeContactText(b *strings.Builder, clinic config.ClinicIdentity) {
	fmt.Fprintf(b, "\n%s\n", clinic.Name)
	if clinic.Phone != "" {
		fmt.Fprintf(b, "Phone: %s\n", clinic.Phone)
	}
	if clinic.Email != "" {
		fmt.Fprintf(b, "Email: %s\n", clinic.Email)
	}
	if clinic.Website != "" {
		fmt.Fprintf(b, "Web: %s\n", clinic.Website)
	}
}

func writeContactHTML(b *strings.Builder, clinic config.ClinicIdentity) {
	b.WriteString(`<p style="color: #6b7280; font-size: 14px;">`)
	b.WriteString(esc(clinic.Name))
	if clinic.Phone != "" {
		fmt.Fprintf(b, `<br>Phone: <a href="tel:%s">%s</a>`, esc(clinic.Phone), esc(clinic.Phone))
	}
	if clinic.Email != "" {
		fmt.Fprintf(b, `<br>Email: <a href="mailto:%s">%s</a>`, esc(clinic.Email), esc(clinic.Email))
	}
	if clinic.Website != "" {
		fmt.Fprintf(b, `<br><a href="%s">%s</a>`, esc(clinic.Website), esc(clinic.Website))
	}
	b.WriteString("</p>")
}

func writeListHTML(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "<h3>%s</h3><ul>", esc(heading))
	for _, item := range items {
		fmt.Fprintf(b, "<li>%s</li>", esc(item))
	}
	b.WriteString("</ul>")
}

func htmlRow(label, value string) string {
	return fmt.Sprintf(`<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
		esc(label), esc(value))
}

func wrapHTML(clinic config.ClinicIdentity, heading, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><body style="font-family: Arial, sans-serif; color: #111827; max-width: 640px; margin: 0 auto;">`+
		`<h2 style="color: #1f2937;">%s</h2>%s`+
		`<p style="color: #9ca3af; font-size: 12px;">%s</p></body></html>`,
		esc(heading), body, esc(clinic.Name))
}

func bulletText(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "- " + strings.Join(items, "\n- ")
}

func esc(s string) string {
	return html.EscapeString(s)
}
