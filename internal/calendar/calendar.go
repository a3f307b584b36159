// Package calendar creates staff calendar entries for booked appointments.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/wolfman30/clinic-automation/internal/apperr"
)

// DefaultDuration is the slot length used when the source gives no end time.
const DefaultDuration = 30 * time.Minute

// Entry is a calendar event to create.
type Entry struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Reference   string
}

// Creator creates calendar entries and returns the provider event id.
type Creator interface {
	CreateEvent(ctx context.Context, e Entry) (string, error)
}

// EventsAPI is the slice of the Google Calendar API used here.
type EventsAPI interface {
	Insert(ctx context.Context, calendarID string, ev *gcal.Event) (*gcal.Event, error)
}

// GoogleCalendar creates events on a shared Google calendar.
type GoogleCalendar struct {
	api        EventsAPI
	calendarID string
}

var _ Creator = (*GoogleCalendar)(nil)

// New wraps an EventsAPI.
func New(api EventsAPI, calendarID string) *GoogleCalendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleCalendar{api: api, calendarID: calendarID}
}

// NewFromCredentials builds a GoogleCalendar using a service-account file.
func NewFromCredentials(ctx context.Context, credentialsFile, calendarID string) (*GoogleCalendar, error) {
	svc, err := gcal.NewService(ctx, option.WithCredentialsFile(credentialsFile), option.WithScopes(gcal.CalendarEventsScope))
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return New(&ServiceAPI{svc: svc}, calendarID), nil
}

// CreateEvent inserts e and returns the Google event id.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, e Entry) (string, error) {
	if e.Start.IsZero() {
		return "", fmt.Errorf("calendar: entry has no start time: %w", apperr.ErrFatal)
	}
	end := e.End
	if !end.After(e.Start) {
		end = e.Start.Add(DefaultDuration)
	}
	ev := &gcal.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Start:       eventTime(e.Start),
		End:         eventTime(end),
	}
	if e.Reference != "" {
		ev.ExtendedProperties = &gcal.EventExtendedProperties{
			Private: map[string]string{"reference": e.Reference},
		}
	}

	created, err := g.api.Insert(ctx, g.calendarID, ev)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("calendar: insert event: %w: %w", apperr.ErrUnavailable, err)
		}
		return "", fmt.Errorf("calendar: insert event: %w: %w", apperr.ErrTransport, err)
	}
	return created.Id, nil
}

func eventTime(t time.Time) *gcal.EventDateTime {
	dt := &gcal.EventDateTime{DateTime: t.Format(time.RFC3339)}
	if name := t.Location().String(); name != "" && name != "Local" {
		dt.TimeZone = name
	}
	return dt
}

// ServiceAPI adapts *calendar.Service to EventsAPI.
type ServiceAPI struct {
	svc *gcal.Service
}

// Insert creates ev on calendarID.
func (s *ServiceAPI) Insert(ctx context.Context, calendarID string, ev *gcal.Event) (*gcal.Event, error) {
	return s.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
}

// AppointmentEntry builds the staff-facing entry for a booked slot.
func AppointmentEntry(clinicAddress, patientName, visitType, email, phone, reference string, start time.Time) Entry {
	if visitType == "" {
		visitType = "Appointment"
	}
	var desc []string
	desc = append(desc, "Patient: "+patientName)
	if email != "" {
		desc = append(desc, "Email: "+email)
	}
	if phone != "" {
		desc = append(desc, "Phone: "+phone)
	}
	if reference != "" {
		desc = append(desc, "Reference: "+reference)
	}
	return Entry{
		Summary:     fmt.Sprintf("%s - %s", visitType, patientName),
		Description: strings.Join(desc, "\n"),
		Location:    clinicAddress,
		Start:       start,
		End:         start.Add(DefaultDuration),
		Reference:   reference,
	}
}
