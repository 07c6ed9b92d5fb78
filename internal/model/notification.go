package model

import "time"

// EventKind classifies a row in the notification history.
type EventKind string

const (
	// EventReminder is a reminder handed to the presentation layer.
	EventReminder EventKind = "reminder"

	// EventTransition announces the end of a requirement episode
	// (completed or cancelled).
	EventTransition EventKind = "transition"

	// EventInteraction records what a user did with a reminder.
	EventInteraction EventKind = "interaction"
)

// Interaction is the user's response to a reminder.
type Interaction string

const (
	InteractionNoneYet      Interaction = "none-yet"
	InteractionShown        Interaction = "shown"
	InteractionAcknowledged Interaction = "acknowledged"
	InteractionDeferred     Interaction = "deferred"
	InteractionRestartNow   Interaction = "restart-now"
	InteractionDismissed    Interaction = "dismissed"
)

// ValidInteraction reports whether i is a known interaction value.
func ValidInteraction(i Interaction) bool {
	switch i {
	case InteractionNoneYet, InteractionShown, InteractionAcknowledged,
		InteractionDeferred, InteractionRestartNow, InteractionDismissed:
		return true
	}
	return false
}

// NotificationEvent is one append-only row of notification history.
// Rows are never updated; a user's response to a reminder is a separate
// interaction row whose RefID points at the reminder.
type NotificationEvent struct {
	ID           string      `json:"id" db:"id"`
	Host         string      `json:"host" db:"host"`
	SentAt       time.Time   `json:"sent_at" db:"sent_at"`
	Kind         EventKind   `json:"kind" db:"kind"`
	Severity     Severity    `json:"severity,omitempty" db:"severity"`
	MessageKey   MessageKey  `json:"message_key" db:"message_key"`
	Channel      string      `json:"channel" db:"channel"`
	UserIdentity string      `json:"user_identity,omitempty" db:"user_identity"`
	Interaction  Interaction `json:"interaction" db:"interaction"`

	// DeferralChosen is set on deferred interactions.
	DeferralChosen *time.Duration `json:"deferral_chosen,omitempty" db:"-"`

	// BucketIndex is the timeframe bucket active when a reminder was
	// emitted, or -1 for rows that are not reminders.
	BucketIndex int `json:"bucket_index" db:"bucket_index"`

	RefID string `json:"ref_id,omitempty" db:"ref_id"`
}
