package reports

import (
	"math"
	"time"

	"github.com/wolfman30/clinic-automation/internal/records"
)

// Window is an inclusive reporting period.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls within the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Days returns the number of calendar days the window spans, at least 1.
func (w Window) Days() int {
	if days := w.dayIndex(w.End) + 1; days > 1 {
		return days
	}
	return 1
}

// dayIndex is the calendar-day offset of t from Start, in Start's location.
// Computed on dates so DST shifts do not move bucket boundaries.
func (w Window) dayIndex(t time.Time) int {
	sy, sm, sd := w.Start.Date()
	ty, tm, td := t.In(w.Start.Location()).Date()
	from := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	to := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// Statistics are the computed figures for one window. Rates are percentages
// rounded to one decimal place.
type Statistics struct {
	Window                Window  `json:"window"`
	TotalBookings         int     `json:"totalBookings"`
	CompletedAppointments int     `json:"completedAppointments"`
	NoShows               int     `json:"noShows"`
	CancelledAppointments int     `json:"cancelledAppointments"`
	TotalTriage           int     `json:"totalTriage"`
	HighUrgency           int     `json:"highUrgency"`
	ModerateUrgency       int     `json:"moderateUrgency"`
	LowUrgency            int     `json:"lowUrgency"`
	RemindersSent         int     `json:"remindersSent"`
	FollowUpsSent         int     `json:"followUpsSent"`
	NoShowRate            float64 `json:"noShowRate"`
	CompletionRate        float64 `json:"completionRate"`
	CancellationRate      float64 `json:"cancellationRate"`
	HighRiskPercentage    float64 `json:"highRiskPercentage"`
	ReminderRate          float64 `json:"reminderRate"`
	AverageDailyBookings  float64 `json:"averageDailyBookings"`
	DailyBookings         []int   `json:"dailyBookings"`
}

// CalculateStatistics aggregates the rows that fall in w. Bookings are
// bucketed by their creation time; every ratio with a zero denominator is 0.
func CalculateStatistics(w Window, appts []records.Appointment, triage []records.TriageRecord, events []records.AnalyticsEvent) Statistics {
	s := Statistics{Window: w, DailyBookings: make([]int, w.Days())}

	for _, a := range appts {
		if !w.Contains(a.CreatedAt) {
			continue
		}
		s.TotalBookings++
		if day := w.dayIndex(a.CreatedAt); day >= 0 && day < len(s.DailyBookings) {
			s.DailyBookings[day]++
		}
		switch a.Status {
		case records.AppointmentCompleted:
			s.CompletedAppointments++
		case records.AppointmentNoShow:
			s.NoShows++
		case records.AppointmentCancelled:
			s.CancelledAppointments++
		}
	}

	for _, t := range triage {
		if !w.Contains(t.CreatedAt) {
			continue
		}
		s.TotalTriage++
		switch t.Urgency {
		case records.UrgencyHigh:
			s.HighUrgency++
		case records.UrgencyModerate:
			s.ModerateUrgency++
		default:
			s.LowUrgency++
		}
	}

	for _, e := range events {
		if !w.Contains(e.Timestamp) {
			continue
		}
		switch e.EventType {
		case records.EventReminderSent:
			s.RemindersSent++
		case records.EventFollowUpSent:
			s.FollowUpsSent++
		}
	}

	s.NoShowRate = percent(s.NoShows, s.TotalBookings)
	s.CompletionRate = percent(s.CompletedAppointments, s.TotalBookings)
	s.CancellationRate = percent(s.CancelledAppointments, s.TotalBookings)
	s.HighRiskPercentage = percent(s.HighUrgency, s.TotalTriage)
	s.ReminderRate = percent(s.RemindersSent, s.TotalBookings)
	s.AverageDailyBookings = round1(float64(s.TotalBookings) / float64(len(s.DailyBookings)))
	return s
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round1(float64(n) / float64(d) * 100)
}

func round1(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*10) / 10
}
