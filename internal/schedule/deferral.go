package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/nhle/rebootreminder/internal/model"
)

// ErrInvalidDeferral is returned when the chosen duration is not offered
// by the active bucket, or when no bucket is active.
var ErrInvalidDeferral = errors.New("invalid deferral")

// ApplyDeferral validates chosen against the active bucket and returns the
// new deferral state. bucket is nil when no bucket applies. On error prev
// is returned unchanged. A new deferral replaces any earlier one.
func ApplyDeferral(now time.Time, chosen time.Duration, bucket *model.Timeframe, prev model.DeferralState) (model.DeferralState, error) {
	if bucket == nil {
		return prev, fmt.Errorf("%w: no timeframe is active", ErrInvalidDeferral)
	}
	if !bucket.Allows(chosen) {
		return prev, fmt.Errorf("%w: %s is not one of %s",
			ErrInvalidDeferral, model.FormatTimespan(chosen), formatOptions(bucket.DeferralOptions))
	}

	until := now.Add(chosen)
	return model.DeferralState{
		Host:          prev.Host,
		ActiveUntil:   &until,
		PostponeCount: prev.PostponeCount + 1,
	}, nil
}

// ExpireDeferral clears a deferral that has run out. changed reports
// whether the state needs to be written back.
func ExpireDeferral(d model.DeferralState, now time.Time) (next model.DeferralState, changed bool) {
	if !d.Expired(now) {
		return d, false
	}
	d.ActiveUntil = nil
	return d, true
}

func formatOptions(opts []time.Duration) string {
	s := "["
	for i, o := range opts {
		if i > 0 {
			s += ", "
		}
		s += model.FormatTimespan(o)
	}
	return s + "]"
}
