package schedule

import (
	"time"

	"github.com/nhle/rebootreminder/internal/model"
)

// InQuietHours reports whether now falls inside a configured quiet window.
// A window whose end is before its start runs past midnight; such a window
// belongs to the day it starts on, so the early-morning part is checked
// against the previous day. Equal start and end describe an empty window.
// Invalid times disable the filter; the config loader rejects them anyway.
func InQuietHours(now time.Time, cfg model.QuietHoursConfig) bool {
	if !cfg.Enabled {
		return false
	}
	start, err := model.ParseClock(cfg.StartTime)
	if err != nil {
		return false
	}
	end, err := model.ParseClock(cfg.EndTime)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	today := int(now.Weekday())

	if start < end {
		return cur >= start && cur < end && dayEnabled(cfg.DaysOfWeek, today)
	}

	// Overnight window.
	if cur >= start {
		return dayEnabled(cfg.DaysOfWeek, today)
	}
	if cur < end {
		return dayEnabled(cfg.DaysOfWeek, (today+6)%7)
	}
	return false
}

func dayEnabled(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
