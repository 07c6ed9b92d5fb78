package reminder

import (
	"context"
	"time"

	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/schedule"
	"github.com/nhle/rebootreminder/internal/store"
)

// Status is a read-only view of the host's reminder state.
type Status struct {
	Host            string            `json:"host"`
	Required        bool              `json:"required"`
	Hard            bool              `json:"hard"`
	Severity        model.Severity    `json:"severity,omitempty"`
	FirstDetectedAt *time.Time        `json:"first_detected_at,omitempty"`
	LastCheckedAt   time.Time         `json:"last_checked_at"`
	Pending         string            `json:"pending,omitempty"`
	Reasons         []model.ProbeName `json:"reasons,omitempty"`

	UnavailableProbes []model.ProbeName `json:"unavailable_probes,omitempty"`

	BucketIndex      int      `json:"bucket_index"`
	ReminderInterval string   `json:"reminder_interval,omitempty"`
	DeferralOptions  []string `json:"deferral_options,omitempty"`

	DeferredUntil *time.Time `json:"deferred_until,omitempty"`
	PostponeCount int        `json:"postpone_count"`
	InQuietHours  bool       `json:"in_quiet_hours"`

	LastReminder *model.NotificationEvent `json:"last_reminder,omitempty"`
	LastDecision string                   `json:"last_decision,omitempty"`
	LastReason   string                   `json:"last_reason,omitempty"`
	LastTickAt   *time.Time               `json:"last_tick_at,omitempty"`

	RebootAllowed bool               `json:"reboot_allowed"`
	Orchestration *OrchestrationView `json:"orchestration,omitempty"`
}

// Status reads the host's persisted state and describes it.
func (p *Poller) Status(ctx context.Context) (Status, error) {
	cfg := p.config()
	host := cfg.Service.Host
	now := p.now()

	req, err := p.store.Requirement(ctx, host)
	if err != nil {
		return Status{}, err
	}
	def, err := p.store.Deferral(ctx, host)
	if err != nil {
		return Status{}, err
	}
	recent, err := p.store.ListNotificationEvents(ctx, store.EventFilter{Host: host, Kind: model.EventReminder, Limit: 1})
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Host:            host,
		Required:        req.Required,
		Hard:            req.Hard,
		FirstDetectedAt: req.FirstDetectedAt,
		LastCheckedAt:   req.LastCheckedAt,
		Reasons:         req.ContributingMethods,
		BucketIndex:     schedule.NoBucket,
		PostponeCount:   def.PostponeCount,
		InQuietHours:    schedule.InQuietHours(now, cfg.Notification.QuietHours),
		RebootAllowed:   cfg.Reboot.SystemReboot.Enabled,
	}
	if def.Active(now) {
		st.DeferredUntil = def.ActiveUntil
	}
	if req.Required {
		st.Severity = req.Severity()
		st.Pending = model.FormatTimespan(req.Elapsed(now).Truncate(time.Second))
		if bucket, idx, ok := schedule.Resolve(req.Elapsed(now), cfg.Timeframes()); ok {
			st.BucketIndex = idx
			st.ReminderInterval = model.FormatTimespan(bucket.Interval)
			st.DeferralOptions = formatOptions(bucket.DeferralOptions)
		}
		if len(recent) > 0 && inEpisode(&recent[0], req.FirstDetectedAt) {
			st.LastReminder = &recent[0]
		}
	}
	if names := p.unavailable.Load(); names != nil && len(*names) > 0 {
		st.UnavailableProbes = *names
	}
	if dec := p.lastDecision.Load(); dec != nil {
		st.LastDecision = dec.Action.String()
		st.LastReason = string(dec.Reason)
	}
	if t := p.LastTick(); !t.IsZero() {
		st.LastTickAt = &t
	}
	if p.orch != nil {
		if o, active := p.orch.Current(); active {
			st.Orchestration = NewOrchestrationView(o)
		}
	}
	return st, nil
}

// History is the recent notification and restart history of the host.
type History struct {
	Events  []model.NotificationEvent `json:"events"`
	Reboots []model.RebootRecord      `json:"reboots"`
}

// History returns up to limit of the newest rows of each history.
func (p *Poller) History(ctx context.Context, limit int) (History, error) {
	host := p.host()
	events, err := p.store.ListNotificationEvents(ctx, store.EventFilter{Host: host, Limit: limit})
	if err != nil {
		return History{}, err
	}
	reboots, err := p.store.ListRebootHistory(ctx, host, limit)
	if err != nil {
		return History{}, err
	}
	return History{Events: events, Reboots: reboots}, nil
}

// Welcome builds the status message sent to a new subscriber.
func (p *Poller) Welcome(ctx context.Context) (Notification, error) {
	st, err := p.Status(ctx)
	if err != nil {
		return Notification{}, err
	}
	cfg := p.config()
	n := Notification{
		Type:            TypeStatus,
		Host:            st.Host,
		SentAt:          p.now(),
		Severity:        st.Severity,
		Channel:         cfg.Notification.Type,
		DeferralOptions: st.DeferralOptions,
		RebootAllowed:   st.RebootAllowed,
		Orchestration:   st.Orchestration,
		Status:          &st,
	}
	if st.LastReminder != nil {
		n.EventID = st.LastReminder.ID
		n.MessageKey = st.LastReminder.MessageKey
		n.ActionKey = actionKey(st.Severity)
	} else if !st.Required {
		n.ActionKey = model.MsgActionNotRequired
	}
	return n, nil
}
