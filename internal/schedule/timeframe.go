// Package schedule holds the pure decision logic of the reminder loop:
// which escalation bucket applies, whether quiet hours or a deferral
// suppress a reminder, and whether a reminder is due.
package schedule

import (
	"time"

	"github.com/nhle/rebootreminder/internal/model"
)

// NoBucket is the index reported when no bucket matches.
const NoBucket = -1

// Resolve returns the first bucket, in declared order, containing elapsed.
// ok is false before the first bucket and inside gaps between buckets.
func Resolve(elapsed time.Duration, buckets []model.Timeframe) (model.Timeframe, int, bool) {
	for i, b := range buckets {
		if b.Contains(elapsed) {
			return b, i, true
		}
	}
	return model.Timeframe{}, NoBucket, false
}
