// Package records defines the typed rows persisted in the tabular store and
// the single mapping layer between them and tabular.Row.
package records

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/tabular"
)

// Table names.
const (
	TableIntake       = "Intake"
	TableAppointments = "Appointments"
	TableTriage       = "Triage"
	TableAnalytics    = "Analytics"
)

// Column names referenced outside the mapping functions.
const (
	ColFormID           = "form_id"
	ColStatus           = "status"
	ColExternalEventID  = "external_event_id"
	ColDate             = "date"
	ColTime             = "time"
	ColCalendarEventID  = "calendar_event_id"
	ColReminderSent     = "reminder_sent"
	ColConfirmationSent = "confirmation_sent"
	ColFollowUpSent     = "follow_up_sent"
	ColNotes            = "notes"
)

// TimestampLayout is used for every persisted timestamp.
const TimestampLayout = time.RFC3339

// DateLayout is the persisted appointment date format.
const DateLayout = "2006-01-02"

var (
	intakeColumns = []string{
		"form_id", "created_at", "status", "patient_name", "email", "dob", "phone", "address",
		"reason_for_visit", "current_medications", "allergies", "past_conditions",
		"insurance_provider", "insurance_id", "emergency_contact", "emergency_phone",
		"appointment_date", "appointment_time", "visit_type", "additional_notes",
	}
	appointmentColumns = []string{
		"external_event_id", "created_at", "patient_name", "email", "phone", "date", "time",
		"visit_type", "status", "calendar_event_id", "reminder_sent", "confirmation_sent",
		"follow_up_sent", "notes",
	}
	triageColumns = []string{
		"form_id", "created_at", "patient_name", "reason_for_visit", "summary", "urgency",
		"risk_keywords", "recommendations", "follow_up_notes", "processed_by",
	}
	analyticsColumns = []string{
		"timestamp", "event_type", "patient_name", "urgency", "appointment_date",
		"appointment_time", "reference", "details",
	}
)

// Schema returns the four table definitions in creation order.
func Schema() []tabular.TableDef {
	return []tabular.TableDef{
		{Name: TableIntake, Columns: intakeColumns},
		{Name: TableAppointments, Columns: appointmentColumns},
		{Name: TableTriage, Columns: triageColumns},
		{Name: TableAnalytics, Columns: analyticsColumns},
	}
}

// IntakeStatus tracks an intake through the pipeline.
type IntakeStatus string

const (
	IntakeNew       IntakeStatus = "new"
	IntakeProcessed IntakeStatus = "processed"
	IntakeFailed    IntakeStatus = "failed"
)

// Intake is a patient-submitted form.
type Intake struct {
	FormID             string
	CreatedAt          time.Time
	Status             IntakeStatus
	PatientName        string
	Email              string
	DOB                string
	Phone              string
	Address            string
	ReasonForVisit     string
	CurrentMedications string
	Allergies          string
	PastConditions     string
	InsuranceProvider  string
	InsuranceID        string
	EmergencyContact   string
	EmergencyPhone     string
	AppointmentDate    string
	AppointmentTime    string
	VisitType          string
	AdditionalNotes    string
}

// HasAppointment reports whether both date and time were supplied.
func (i Intake) HasAppointment() bool {
	return strings.TrimSpace(i.AppointmentDate) != "" && strings.TrimSpace(i.AppointmentTime) != ""
}

// ToRow maps an Intake to its persisted row.
func (i Intake) ToRow() tabular.Row {
	return tabular.Row{
		"form_id":             i.FormID,
		"created_at":          formatTime(i.CreatedAt),
		"status":              string(i.Status),
		"patient_name":        i.PatientName,
		"email":               i.Email,
		"dob":                 i.DOB,
		"phone":               i.Phone,
		"address":             i.Address,
		"reason_for_visit":    i.ReasonForVisit,
		"current_medications": i.CurrentMedications,
		"allergies":           i.Allergies,
		"past_conditions":     i.PastConditions,
		"insurance_provider":  i.InsuranceProvider,
		"insurance_id":        i.InsuranceID,
		"emergency_contact":   i.EmergencyContact,
		"emergency_phone":     i.EmergencyPhone,
		"appointment_date":    i.AppointmentDate,
		"appointment_time":    i.AppointmentTime,
		"visit_type":          i.VisitType,
		"additional_notes":    i.AdditionalNotes,
	}
}

// IntakeFromRow maps a persisted row back to an Intake.
func IntakeFromRow(r tabular.Row) (Intake, error) {
	created, err := parseTime(r["created_at"])
	if err != nil {
		return Intake{}, malformed(TableIntake, r["form_id"], "created_at", err)
	}
	return Intake{
		FormID:             r["form_id"],
		CreatedAt:          created,
		Status:             IntakeStatus(r["status"]),
		PatientName:        r["patient_name"],
		Email:              r["email"],
		DOB:                r["dob"],
		Phone:              r["phone"],
		Address:            r["address"],
		ReasonForVisit:     r["reason_for_visit"],
		CurrentMedications: r["current_medications"],
		Allergies:          r["allergies"],
		PastConditions:     r["past_conditions"],
		InsuranceProvider:  r["insurance_provider"],
		InsuranceID:        r["insurance_id"],
		EmergencyContact:   r["emergency_contact"],
		EmergencyPhone:     r["emergency_phone"],
		AppointmentDate:    r["appointment_date"],
		AppointmentTime:    r["appointment_time"],
		VisitType:          r["visit_type"],
		AdditionalNotes:    r["additional_notes"],
	}, nil
}

// AppointmentStatus is a node in the appointment status DAG rooted at scheduled.
type AppointmentStatus string

const (
	AppointmentScheduled   AppointmentStatus = "scheduled"
	AppointmentCompleted   AppointmentStatus = "completed"
	AppointmentCancelled   AppointmentStatus = "cancelled"
	AppointmentNoShow      AppointmentStatus = "no_show"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
)

// transitions lists the allowed status moves. A rescheduled appointment never
// returns to scheduled; it may be rescheduled again. Terminal states have no
// entry.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentScheduled:   {AppointmentCompleted, AppointmentCancelled, AppointmentNoShow, AppointmentRescheduled},
	AppointmentRescheduled: {AppointmentCompleted, AppointmentCancelled, AppointmentNoShow, AppointmentRescheduled},
}

// CanTransition reports whether from -> to is an edge of the status DAG.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Appointment is a booked visit keyed by the upstream calendar event id.
type Appointment struct {
	ExternalEventID  string
	CreatedAt        time.Time
	PatientName      string
	Email            string
	Phone            string
	Date             string
	Time             string
	VisitType        string
	Status           AppointmentStatus
	CalendarEventID  string
	ReminderSent     bool
	ConfirmationSent bool
	FollowUpSent     bool
	Notes            string
}

// Start resolves date+time in loc.
func (a Appointment) Start(loc *time.Location) (time.Time, error) {
	return ParseDateTime(a.Date, a.Time, loc)
}

// ToRow maps an Appointment to its persisted row.
func (a Appointment) ToRow() tabular.Row {
	return tabular.Row{
		"external_event_id": a.ExternalEventID,
		"created_at":        formatTime(a.CreatedAt),
		"patient_name":      a.PatientName,
		"email":             a.Email,
		"phone":             a.Phone,
		"date":              a.Date,
		"time":              a.Time,
		"visit_type":        a.VisitType,
		"status":            string(a.Status),
		"calendar_event_id": a.CalendarEventID,
		"reminder_sent":     FormatBool(a.ReminderSent),
		"confirmation_sent": FormatBool(a.ConfirmationSent),
		"follow_up_sent":    FormatBool(a.FollowUpSent),
		"notes":             a.Notes,
	}
}

// AppointmentFromRow maps a persisted row back to an Appointment.
func AppointmentFromRow(r tabular.Row) (Appointment, error) {
	created, err := parseTime(r["created_at"])
	if err != nil {
		return Appointment{}, malformed(TableAppointments, r["external_event_id"], "created_at", err)
	}
	return Appointment{
		ExternalEventID:  r["external_event_id"],
		CreatedAt:        created,
		PatientName:      r["patient_name"],
		Email:            r["email"],
		Phone:            r["phone"],
		Date:             r["date"],
		Time:             r["time"],
		VisitType:        r["visit_type"],
		Status:           AppointmentStatus(strings.ToLower(strings.TrimSpace(r["status"]))),
		CalendarEventID:  r["calendar_event_id"],
		ReminderSent:     ParseBool(r["reminder_sent"]),
		ConfirmationSent: ParseBool(r["confirmation_sent"]),
		FollowUpSent:     ParseBool(r["follow_up_sent"]),
		Notes:            r["notes"],
	}, nil
}

// Urgency is the triage tier.
type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyModerate Urgency = "Moderate"
	UrgencyHigh     Urgency = "High"
)

// Urgencies lists every tier from lowest to highest.
var Urgencies = []Urgency{UrgencyLow, UrgencyModerate, UrgencyHigh}

// ParseUrgency coerces free-form model output to a tier. Unknown values
// become Moderate; ok is false in that case.
func ParseUrgency(s string) (Urgency, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "routine", "preventive", "minimal":
		return UrgencyLow, true
	case "moderate", "medium", "mid", "intermediate":
		return UrgencyModerate, true
	case "high", "urgent", "critical", "emergency", "severe":
		return UrgencyHigh, true
	default:
		return UrgencyModerate, false
	}
}

// TriageRecord is the classifier output for one intake.
type TriageRecord struct {
	FormID          string
	CreatedAt       time.Time
	PatientName     string
	ReasonForVisit  string
	Summary         string
	Urgency         Urgency
	RiskKeywords    []string
	Recommendations string
	FollowUpNotes   string
	ProcessedBy     string
}

// ToRow maps a TriageRecord to its persisted row.
func (t TriageRecord) ToRow() tabular.Row {
	return tabular.Row{
		"form_id":          t.FormID,
		"created_at":       formatTime(t.CreatedAt),
		"patient_name":     t.PatientName,
		"reason_for_visit": t.ReasonForVisit,
		"summary":          t.Summary,
		"urgency":          string(t.Urgency),
		"risk_keywords":    strings.Join(t.RiskKeywords, ", "),
		"recommendations":  t.Recommendations,
		"follow_up_notes":  t.FollowUpNotes,
		"processed_by":     t.ProcessedBy,
	}
}

// TriageFromRow maps a persisted row back to a TriageRecord.
func TriageFromRow(r tabular.Row) (TriageRecord, error) {
	created, err := parseTime(r["created_at"])
	if err != nil {
		return TriageRecord{}, malformed(TableTriage, r["form_id"], "created_at", err)
	}
	urgency, _ := ParseUrgency(r["urgency"])
	return TriageRecord{
		FormID:          r["form_id"],
		CreatedAt:       created,
		PatientName:     r["patient_name"],
		ReasonForVisit:  r["reason_for_visit"],
		Summary:         r["summary"],
		Urgency:         urgency,
		RiskKeywords:    splitList(r["risk_keywords"]),
		Recommendations: r["recommendations"],
		FollowUpNotes:   r["follow_up_notes"],
		ProcessedBy:     r["processed_by"],
	}, nil
}

// EventType names an analytics event.
type EventType string

const (
	EventIntakeProcessed         EventType = "intake_form_processed"
	EventAppointmentBooked       EventType = "appointment_booked"
	EventReminderSent            EventType = "reminder_sent"
	EventFollowUpSent            EventType = "follow_up_sent"
	EventWeeklyReportGenerated   EventType = "weekly_report_generated"
	EventCustomReminderScheduled EventType = "custom_reminder_scheduled"
)

// AnalyticsEvent is an append-only operational record.
type AnalyticsEvent struct {
	Timestamp       time.Time
	EventType       EventType
	PatientName     string
	Urgency         string
	AppointmentDate string
	AppointmentTime string
	// Reference is the formId or externalEventId the event concerns.
	Reference string
	// Details carries free-form JSON such as report totals.
	Details string
}

// ToRow maps an AnalyticsEvent to its persisted row.
func (e AnalyticsEvent) ToRow() tabular.Row {
	return tabular.Row{
		"timestamp":        formatTime(e.Timestamp),
		"event_type":       string(e.EventType),
		"patient_name":     e.PatientName,
		"urgency":          e.Urgency,
		"appointment_date": e.AppointmentDate,
		"appointment_time": e.AppointmentTime,
		"reference":        e.Reference,
		"details":          e.Details,
	}
}

// AnalyticsFromRow maps a persisted row back to an AnalyticsEvent.
func AnalyticsFromRow(r tabular.Row) (AnalyticsEvent, error) {
	ts, err := parseTime(r["timestamp"])
	if err != nil {
		return AnalyticsEvent{}, malformed(TableAnalytics, r["reference"], "timestamp", err)
	}
	return AnalyticsEvent{
		Timestamp:       ts,
		EventType:       EventType(r["event_type"]),
		PatientName:     r["patient_name"],
		Urgency:         r["urgency"],
		AppointmentDate: r["appointment_date"],
		AppointmentTime: r["appointment_time"],
		Reference:       r["reference"],
		Details:         r["details"],
	}, nil
}

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "3:04 pm", "3:04pm"}

// ParseDateTime combines a YYYY-MM-DD date and a clock time in loc.
func ParseDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	c, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, loc), nil
}

// ParseClock parses a wall-clock time such as 09:00 or 2:30 PM. Only the
// hour, minute and second of the result are meaningful.
func ParseClock(clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	for _, layout := range clockLayouts {
		if c, err := time.Parse(layout, clock); err == nil {
			return c, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unrecognized format", clock)
}

// FormatBool renders a flag the way spreadsheet users expect.
func FormatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// ParseBool accepts TRUE/true/1/yes; everything else is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
		return b
	}
	return false
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimestampLayout, s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func malformed(table, key, field string, err error) error {
	return fmt.Errorf("records: %s row %q: bad %s: %w: %w", table, key, field, apperr.ErrFatal, err)
}
