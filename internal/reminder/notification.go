package reminder

import (
	"context"
	"time"

	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/orchestrator"
)

// NotificationType tags what a Notification announces.
type NotificationType string

const (
	TypeReminder      NotificationType = "reminder"
	TypeTransition    NotificationType = "transition"
	TypePostponed     NotificationType = "postponed"
	TypeOrchestration NotificationType = "orchestration"

	// TypeStatus is sent to a subscriber once, when it connects.
	TypeStatus NotificationType = "status"
)

// Notification is what the presentation layer receives. Message text is
// not rendered here: the client looks up MessageKey in its templates and
// fills the placeholders with Args in order.
type Notification struct {
	Type       NotificationType `json:"type"`
	EventID    string           `json:"event_id,omitempty"`
	Host       string           `json:"host"`
	SentAt     time.Time        `json:"sent_at"`
	Severity   model.Severity   `json:"severity,omitempty"`
	MessageKey model.MessageKey `json:"message_key,omitempty"`
	ActionKey  model.MessageKey `json:"action_key,omitempty"`
	Args       []string         `json:"args,omitempty"`
	Channel    string           `json:"channel,omitempty"`

	// DeferralOptions are the postponements the user may pick, as
	// timespans ("1h", "30m").
	DeferralOptions []string `json:"deferral_options,omitempty"`
	RebootAllowed   bool     `json:"reboot_allowed"`

	Orchestration *OrchestrationView `json:"orchestration,omitempty"`
	Status        *Status            `json:"status,omitempty"`
}

// OrchestrationView is the wire form of an orchestrator snapshot.
type OrchestrationView struct {
	ID              string     `json:"id"`
	State           string     `json:"state"`
	RequestedBy     string     `json:"requested_by"`
	RequestedAt     time.Time  `json:"requested_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CountdownEndsAt *time.Time `json:"countdown_ends_at,omitempty"`
	Error           string     `json:"error,omitempty"`

	ConfirmationTitle   string `json:"confirmation_title,omitempty"`
	ConfirmationMessage string `json:"confirmation_message,omitempty"`
}

// NewOrchestrationView converts an orchestrator snapshot.
func NewOrchestrationView(o orchestrator.Orchestration) *OrchestrationView {
	return &OrchestrationView{
		ID:              o.ID,
		State:           string(o.State),
		RequestedBy:     o.RequestedBy,
		RequestedAt:     o.RequestedAt,
		ConfirmedAt:     o.ConfirmedAt,
		CountdownEndsAt: o.CountdownEndsAt,
		Error:           o.ErrMessage(),
	}
}

// Notifier hands notifications to the presentation layer. Deliver must
// return promptly; an error means the user did not get it.
type Notifier interface {
	Deliver(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Deliver(ctx context.Context, n Notification) error { return f(ctx, n) }

func formatOptions(opts []time.Duration) []string {
	out := make([]string, 0, len(opts))
	for _, d := range opts {
		out = append(out, model.FormatTimespan(d))
	}
	return out
}
