package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/rebootreminder/internal/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// EventFilter selects notification history rows.
type EventFilter struct {
	Host  string
	Kind  model.EventKind // empty for all kinds
	Since *time.Time
	Limit int // 0 for no limit
}

// Tx is the view of the store inside one Update call. Every method runs on
// the same transaction, so reads see the writes made earlier in the call.
type Tx interface {
	// Requirement returns the host's requirement row, or a zero value with
	// Host set when the host has never been checked.
	Requirement() (model.RebootRequirement, error)
	SaveRequirement(req model.RebootRequirement) error

	// Deferral returns the host's deferral, or a zero value with Host set.
	Deferral() (model.DeferralState, error)
	SaveDeferral(d model.DeferralState) error

	// LastReminder returns the newest reminder event for the host, or nil.
	LastReminder() (*model.NotificationEvent, error)

	// AppendEvent inserts a notification history row. Rows are never
	// updated afterwards.
	AppendEvent(evt model.NotificationEvent) error

	// EventByID looks up an event of this host. It returns ErrNotFound
	// when no such event exists.
	EventByID(id string) (*model.NotificationEvent, error)

	AppendRebootRecord(rec model.RebootRecord) error

	// LastRebootRecord returns the newest restart record, or nil.
	LastRebootRecord() (*model.RebootRecord, error)
}

// Store defines the persistence interface for reboot state, notification
// history, deferrals and restart history.
type Store interface {
	// Update runs fn inside a single transaction scoped to host. The
	// transaction commits when fn returns nil and rolls back otherwise.
	Update(ctx context.Context, host string, fn func(tx Tx) error) error

	Requirement(ctx context.Context, host string) (model.RebootRequirement, error)
	Deferral(ctx context.Context, host string) (model.DeferralState, error)
	ListNotificationEvents(ctx context.Context, filter EventFilter) ([]model.NotificationEvent, error)
	ListRebootHistory(ctx context.Context, host string, limit int) ([]model.RebootRecord, error)

	// PruneEvents deletes notification history older than before and
	// returns the number of rows removed.
	PruneEvents(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
