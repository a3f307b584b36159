package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Kind names a message type. Values double as metric labels.
type Kind string

const (
	KindConfirmation        Kind = "confirmation"
	KindBookingConfirmation Kind = "booking_confirmation"
	KindReminder            Kind = "reminder"
	KindFollowUp            Kind = "follow_up"
	KindTriageAlert         Kind = "triage_alert"
	KindWeeklyReport        Kind = "weekly_report"
	KindErrorAlert          Kind = "error_alert"
)

// Severity drives styling in rich renderings.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Field is one labelled value in a structured rendering.
type Field struct {
	Label string
	Value string
}

// Message is a fully rendered notification. Transports pick the rendering
// they support: email uses HTML+Text, chat uses Title/Fields/Sections.
type Message struct {
	Kind     Kind
	To       string
	ToName   string
	Subject  string
	Text     string
	HTML     string
	Severity Severity
	Title    string
	Fields   []Field
	Sections []Field
}

// Transport delivers a rendered message and returns the provider message id.
type Transport interface {
	Deliver(ctx context.Context, msg Message) (string, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) (string, error)

func (f TransportFunc) Deliver(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}

// StubTransport logs messages instead of sending them. Used in development
// and when no provider is configured.
type StubTransport struct {
	logger *logging.Logger
}

// NewStubTransport creates a stub transport.
func NewStubTransport(logger *logging.Logger) *StubTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubTransport{logger: logger}
}

// Deliver logs the message and returns a generated id.
func (s *StubTransport) Deliver(_ context.Context, msg Message) (string, error) {
	id := "stub-" + uuid.NewString()
	s.logger.Info("stub transport: would send message",
		"kind", msg.Kind, "to", msg.To, "subject", msg.Subject, "message_id", id)
	return id, nil
}
