package model

import (
	"sort"
	"time"
)

// ProbeName identifies a detection probe ("reboot-required-file",
// "needs-restarting", ...).
type ProbeName string

// Severity grades a reminder. A reminder is Required when at least one
// hard probe reports a pending restart, Recommended otherwise.
type Severity string

const (
	SeverityRequired    Severity = "required"
	SeverityRecommended Severity = "recommended"
)

// RebootRequirement is the persisted per-host restart status. There is
// exactly one row per host.
type RebootRequirement struct {
	Host     string `json:"host" db:"host"`
	Required bool   `json:"required" db:"required"`
	Hard     bool   `json:"hard" db:"hard"`

	// FirstDetectedAt is set when Required flips from false to true and
	// stays fixed until it flips back, at which point it is cleared.
	FirstDetectedAt *time.Time `json:"first_detected_at,omitempty" db:"first_detected_at"`

	LastCheckedAt time.Time `json:"last_checked_at" db:"last_checked_at"`

	ContributingMethods []ProbeName `json:"contributing_methods" db:"-"`
}

// Elapsed returns how long the requirement has been pending at now.
// It is zero when nothing is pending.
func (r RebootRequirement) Elapsed(now time.Time) time.Duration {
	if !r.Required || r.FirstDetectedAt == nil {
		return 0
	}
	d := now.Sub(*r.FirstDetectedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Severity derives the reminder severity from the hard flag.
func (r RebootRequirement) Severity() Severity {
	if r.Hard {
		return SeverityRequired
	}
	return SeverityRecommended
}

// SortProbeNames sorts names in place and returns them.
func SortProbeNames(names []ProbeName) []ProbeName {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
