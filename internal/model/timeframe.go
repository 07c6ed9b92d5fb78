package model

import "time"

// Timeframe is one escalation bucket: while the requirement has been
// pending for a duration in [Min, Max], reminders repeat every Interval
// and the user may postpone by any of DeferralOptions. Max is nil only on
// the last, open-ended bucket.
type Timeframe struct {
	Min             time.Duration   `json:"min"`
	Max             *time.Duration  `json:"max,omitempty"`
	Interval        time.Duration   `json:"interval"`
	DeferralOptions []time.Duration `json:"deferral_options"`
}

// Contains reports whether elapsed falls inside the bucket. Both ends are
// inclusive.
func (tf Timeframe) Contains(elapsed time.Duration) bool {
	if elapsed < tf.Min {
		return false
	}
	return tf.Max == nil || elapsed <= *tf.Max
}

// Allows reports whether d is one of the bucket's deferral options.
func (tf Timeframe) Allows(d time.Duration) bool {
	for _, opt := range tf.DeferralOptions {
		if opt == d {
			return true
		}
	}
	return false
}
