package schedule

import (
	"time"

	"github.com/nhle/rebootreminder/internal/model"
)

// Action is what the reminder loop should do this tick.
type Action int

const (
	ActionSuppress Action = iota
	ActionEmit
	ActionTransition
)

func (a Action) String() string {
	switch a {
	case ActionEmit:
		return "emit"
	case ActionTransition:
		return "transition"
	default:
		return "suppress"
	}
}

// Reason explains a suppressed (or transition) decision.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNotRequired        Reason = "not-required"
	ReasonDeferred           Reason = "deferred"
	ReasonQuietHours         Reason = "quiet-hours"
	ReasonNoTimeframe        Reason = "no-timeframe"
	ReasonIntervalNotElapsed Reason = "interval-not-elapsed"
)

// Decision is the outcome of ShouldNotify.
type Decision struct {
	Action   Action
	Reason   Reason
	Severity model.Severity

	// TransitionKey is rebootCompleted or rebootCancelled on transitions.
	TransitionKey model.MessageKey

	// Bucket and BucketIndex describe the active timeframe; BucketIndex
	// is NoBucket when none applies.
	Bucket      model.Timeframe
	BucketIndex int

	// Escalated is true when the bucket index rose since the last reminder.
	Escalated bool
}

// Input is everything ShouldNotify looks at. It is a plain value so the
// decision can be computed and tested without a store.
type Input struct {
	Now         time.Time
	Requirement model.RebootRequirement
	Deferral    model.DeferralState

	// LastReminder is the newest reminder of the current requirement
	// episode, or nil when none was sent since it was first detected.
	LastReminder *model.NotificationEvent

	Buckets    []model.Timeframe
	QuietHours model.QuietHoursConfig

	// EpisodeEnded is true on the tick where the requirement went from
	// pending to clear. OutstandingReminder says a reminder was sent
	// during that episode, and RestartedSince that the host restarted
	// after it.
	EpisodeEnded        bool
	OutstandingReminder bool
	RestartedSince      bool
}

// ShouldNotify applies the reminder rules in order: not required, active
// deferral, quiet hours (unless escalated and allowed to override), no
// applicable bucket, then the bucket's interval since the last reminder.
func ShouldNotify(in Input) Decision {
	if !in.Requirement.Required {
		d := Decision{Action: ActionSuppress, Reason: ReasonNotRequired, BucketIndex: NoBucket}
		if in.EpisodeEnded && in.OutstandingReminder {
			d.Action = ActionTransition
			d.TransitionKey = model.MsgRebootCancelled
			if in.RestartedSince {
				d.TransitionKey = model.MsgRebootCompleted
			}
		}
		return d
	}

	bucket, idx, ok := Resolve(in.Requirement.Elapsed(in.Now), in.Buckets)
	d := Decision{
		Action:      ActionSuppress,
		Severity:    in.Requirement.Severity(),
		Bucket:      bucket,
		BucketIndex: idx,
		Escalated:   ok && in.LastReminder != nil && idx > in.LastReminder.BucketIndex,
	}

	if in.Deferral.Active(in.Now) {
		d.Reason = ReasonDeferred
		return d
	}

	if InQuietHours(in.Now, in.QuietHours) && !(d.Escalated && in.QuietHours.OverrideOnEscalation) {
		d.Reason = ReasonQuietHours
		return d
	}

	if !ok {
		d.Reason = ReasonNoTimeframe
		return d
	}

	if in.LastReminder == nil || in.Now.Sub(in.LastReminder.SentAt) >= bucket.Interval {
		d.Action = ActionEmit
		return d
	}

	d.Reason = ReasonIntervalNotElapsed
	return d
}
