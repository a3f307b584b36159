package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-automation/internal/records"
)

// Totals are all-time counts across the tables.
type Totals struct {
	Intakes              int            `json:"intakes"`
	Appointments         int            `json:"appointments"`
	TriageRecords        int            `json:"triageRecords"`
	AnalyticsEvents      int            `json:"analyticsEvents"`
	IntakesByStatus      map[string]int `json:"intakesByStatus"`
	AppointmentsByStatus map[string]int `json:"appointmentsByStatus"`
	TriageByUrgency      map[string]int `json:"triageByUrgency"`
	UpcomingAppointments int            `json:"upcomingAppointments"`
	MalformedRows        int            `json:"malformedRows"`
}

// Dashboard is the read model behind GET /dashboard.
type Dashboard struct {
	GeneratedAt   time.Time  `json:"generatedAt"`
	LastSevenDays Statistics `json:"lastSevenDays"`
	Trends        []Trend    `json:"trends"`
	AllTime       Totals     `json:"allTime"`
}

// Dashboard computes last-seven-day statistics and all-time totals without
// dispatching anything.
func (e *Engine) Dashboard(ctx context.Context) (*Dashboard, error) {
	ctx, span := tracer.Start(ctx, "reports.Dashboard")
	defer span.End()

	appts, triageRecs, events, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	ioCtx, cancel := context.WithTimeout(ctx, e.cfg.IOTimeout)
	defer cancel()
	intakes, badIntakes, err := e.repo.ListIntakes(ioCtx)
	if err != nil {
		return nil, fmt.Errorf("reports: scan intakes: %w", err)
	}

	now := e.now()
	stats := CalculateStatistics(e.WeeklyWindow(), appts, triageRecs, events)
	totals := Totals{
		Intakes:              len(intakes),
		Appointments:         len(appts),
		TriageRecords:        len(triageRecs),
		AnalyticsEvents:      len(events),
		IntakesByStatus:      map[string]int{},
		AppointmentsByStatus: map[string]int{},
		TriageByUrgency:      map[string]int{},
		MalformedRows:        len(badIntakes),
	}
	for _, in := range intakes {
		totals.IntakesByStatus[string(in.Status)]++
	}
	for _, a := range appts {
		totals.AppointmentsByStatus[string(a.Status)]++
		if a.Status != records.AppointmentScheduled && a.Status != records.AppointmentRescheduled {
			continue
		}
		if start, err := a.Start(e.cfg.Location); err == nil && start.After(now) {
			totals.UpcomingAppointments++
		}
	}
	for _, u := range records.Urgencies {
		totals.TriageByUrgency[string(u)] = 0
	}
	for _, t := range triageRecs {
		totals.TriageByUrgency[string(t.Urgency)]++
	}

	return &Dashboard{
		GeneratedAt:   now.UTC(),
		LastSevenDays: stats,
		Trends:        IdentifyTrends(stats),
		AllTime:       totals,
	}, nil
}
