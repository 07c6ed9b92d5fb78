package model

import "time"

// DeferralState is the per-host postponement. A newer deferral replaces
// the previous one.
type DeferralState struct {
	Host          string     `json:"host" db:"host"`
	ActiveUntil   *time.Time `json:"active_until,omitempty" db:"active_until"`
	PostponeCount int        `json:"postpone_count" db:"postpone_count"`
}

// Active reports whether the deferral still suppresses reminders at now.
func (d DeferralState) Active(now time.Time) bool {
	return d.ActiveUntil != nil && now.Before(*d.ActiveUntil)
}

// Expired reports whether a deferral was set and has run out at now.
func (d DeferralState) Expired(now time.Time) bool {
	return d.ActiveUntil != nil && !now.Before(*d.ActiveUntil)
}
