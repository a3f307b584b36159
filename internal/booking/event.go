package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-automation/internal/apperr"
)

// Kind is the booking webhook event type.
type Kind string

const (
	KindCreated     Kind = "created"
	KindCancelled   Kind = "cancelled"
	KindRescheduled Kind = "rescheduled"
)

// Event is the booking webhook body.
type Event struct {
	Event   Kind    `json:"event"`
	Payload Payload `json:"payload"`
}

// Payload carries the invitee and scheduled event.
type Payload struct {
	ExternalEventID     string           `json:"externalEventId"`
	Name                string           `json:"name"`
	Email               string           `json:"email"`
	Phone               string           `json:"phone,omitempty"`
	CreatedAt           string           `json:"created_at,omitempty"`
	Event               ScheduledEvent   `json:"event"`
	QuestionsAndAnswers []QuestionAnswer `json:"questions_and_answers,omitempty"`
}

// ScheduledEvent is the upstream calendar event.
type ScheduledEvent struct {
	URI       string `json:"uri"`
	Name      string `json:"name,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// QuestionAnswer is one booking-form answer.
type QuestionAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Validate checks the fields every event kind needs.
func (e Event) Validate() error {
	fields := map[string]string{}
	switch Kind(strings.ToLower(strings.TrimSpace(string(e.Event)))) {
	case KindCreated, KindCancelled, KindRescheduled:
	default:
		fields["event"] = "must be one of created, cancelled, rescheduled"
	}
	if strings.TrimSpace(e.Payload.ExternalEventID) == "" {
		fields["payload.externalEventId"] = "is required"
	}
	if st := strings.TrimSpace(e.Payload.Event.StartTime); st != "" {
		if _, err := time.Parse(time.RFC3339, st); err != nil {
			fields["payload.event.start_time"] = "must be an RFC 3339 timestamp"
		}
	}
	if len(fields) > 0 {
		return apperr.NewValidationError(fields)
	}
	return nil
}

// kind returns the normalized event kind.
func (e Event) kind() Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(e.Event))))
}

// slot converts start_time into clinic-local date and time strings.
func (p Payload) slot(loc *time.Location) (date, clock string, start time.Time, ok bool) {
	st := strings.TrimSpace(p.Event.StartTime)
	if st == "" {
		return "", "", time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, st)
	if err != nil {
		return "", "", time.Time{}, false
	}
	t = t.In(loc)
	return t.Format("2006-01-02"), t.Format("15:04"), t, true
}

// notes flattens questions and answers into the appointment notes column.
func (p Payload) notes() string {
	var parts []string
	for _, qa := range p.QuestionsAndAnswers {
		q, a := strings.TrimSpace(qa.Question), strings.TrimSpace(qa.Answer)
		if q == "" && a == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", q, a))
	}
	return strings.Join(parts, "; ")
}
