// Package reminder runs the reminder loop: each tick it collects the
// detection probes, updates the host's persisted state, asks the
// scheduler whether a reminder is due and hands due reminders to the
// presentation layer. It also applies the user's responses.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/rebootreminder/internal/detect"
	"github.com/nhle/rebootreminder/internal/metrics"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/orchestrator"
	"github.com/nhle/rebootreminder/internal/schedule"
	"github.com/nhle/rebootreminder/internal/store"
)

const (
	defaultDeliveryTimeout = 5 * time.Second
	pruneInterval          = time.Hour
	historyWriteTimeout    = 10 * time.Second
)

// Options configures a Poller.
type Options struct {
	Store store.Store

	// Config returns the current configuration snapshot. It is read once
	// per tick and once per user action.
	Config func() *model.AppConfig

	// Probes builds the probe set from a config snapshot. Defaults to
	// detect.FromConfig over the configured probes.
	Probes func(cfg *model.AppConfig) ([]detect.Registered, error)

	Notifier     Notifier
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// BootTime returns when the host last started. Defaults to the kernel
	// boot time, falling back to the poller's creation time.
	BootTime func() time.Time
}

// Poller owns the reminder loop for one host.
type Poller struct {
	store    store.Store
	config   func() *model.AppConfig
	probes   func(cfg *model.AppConfig) ([]detect.Registered, error)
	notifier Notifier
	orch     *orchestrator.Orchestrator
	logger   *slog.Logger
	now      func() time.Time
	bootTime func() time.Time

	// mu serializes ticks and user actions so that the host's state has a
	// single writer.
	mu sync.Mutex

	lastTick     atomic.Int64 // unix nanos of the last completed tick
	lastDecision atomic.Pointer[schedule.Decision]
	unavailable  atomic.Pointer[[]model.ProbeName]

	triggerCh chan struct{}
}

// New creates a Poller.
func New(opts Options) *Poller {
	p := &Poller{
		store:     opts.Store,
		config:    opts.Config,
		probes:    opts.Probes,
		notifier:  opts.Notifier,
		orch:      opts.Orchestrator,
		logger:    opts.Logger,
		now:       opts.Now,
		bootTime:  opts.BootTime,
		triggerCh: make(chan struct{}, 1),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.bootTime == nil {
		p.bootTime = bootTimeFunc(p.now())
	}
	if p.probes == nil {
		p.probes = func(cfg *model.AppConfig) ([]detect.Registered, error) {
			return detect.FromConfig(cfg.Reboot.Probes)
		}
	}
	if p.notifier == nil {
		p.notifier = NotifierFunc(func(context.Context, Notification) error { return nil })
	}
	return p
}

// Run evaluates immediately and then every check interval until ctx is
// done. A changed interval in a reloaded config takes effect after the
// next tick.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()

	p.logger.Info("reminder loop started", "host", p.host(), "interval", interval)

	p.runTick(ctx)
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reminder loop stopped")
			return nil
		case <-ticker.C:
			p.runTick(ctx)
		case <-p.triggerCh:
			p.runTick(ctx)
		case <-prune.C:
			p.prune(ctx)
		}

		if next := p.interval(); next != interval {
			p.logger.Info("check interval changed", "from", interval, "to", next)
			interval = next
			ticker.Reset(interval)
		}
	}
}

// Refresh asks the loop to evaluate now. It never blocks; a refresh that
// is already queued absorbs this one.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// LastTick returns when the last tick completed, or the zero time.
func (p *Poller) LastTick() time.Time {
	n := p.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (p *Poller) runTick(ctx context.Context) {
	start := time.Now()
	dec, err := p.Tick(ctx)
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.TicksTotal.WithLabelValues("error").Inc()
		p.logger.Error("reminder tick failed", "error", err)
		return
	}
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	metrics.DecisionsTotal.WithLabelValues(dec.Action.String(), string(dec.Reason)).Inc()
}

// Tick runs one evaluation: probes, state update, decision and, when due,
// delivery. A reminder is recorded only after it was delivered, so a
// failed delivery is retried on the next tick.
func (p *Poller) Tick(ctx context.Context) (schedule.Decision, error) {
	cfg := p.config()
	host := cfg.Service.Host

	probes, err := p.probes(cfg)
	if err != nil {
		return schedule.Decision{}, fmt.Errorf("building probes: %w", err)
	}
	round := detect.Collect(ctx, probes, p.logger)
	p.recordUnavailable(round.Unavailable)
	eval := round.Evaluate()

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var (
		dec    schedule.Decision
		req    model.RebootRequirement
		sent   *Notification
		failed bool
	)

	err = p.store.Update(ctx, host, func(tx store.Tx) error {
		prev, err := tx.Requirement()
		if err != nil {
			return err
		}
		req = detect.Observe(prev, eval, now)
		if err := tx.SaveRequirement(req); err != nil {
			return err
		}

		def, err := tx.Deferral()
		if err != nil {
			return err
		}
		if next, changed := schedule.ExpireDeferral(def, now); changed {
			if err := tx.SaveDeferral(next); err != nil {
				return err
			}
			def = next
		}

		last, err := tx.LastReminder()
		if err != nil {
			return err
		}

		in := schedule.Input{
			Now:         now,
			Requirement: req,
			Deferral:    def,
			Buckets:     cfg.Timeframes(),
			QuietHours:  cfg.Notification.QuietHours,
		}
		if req.Required && inEpisode(last, req.FirstDetectedAt) {
			in.LastReminder = last
		}
		if prev.Required && !req.Required {
			in.EpisodeEnded = true
			if inEpisode(last, prev.FirstDetectedAt) {
				in.OutstandingReminder = true
				in.RestartedSince, err = p.restartedSince(tx, last.SentAt)
				if err != nil {
					return err
				}
			}
		}

		dec = schedule.ShouldNotify(in)

		switch dec.Action {
		case schedule.ActionEmit:
			evt := model.NotificationEvent{
				ID:          uuid.New().String(),
				Host:        host,
				SentAt:      now,
				Kind:        model.EventReminder,
				Severity:    dec.Severity,
				MessageKey:  reminderKey(dec.Severity),
				Channel:     cfg.Notification.Type,
				Interaction: model.InteractionNoneYet,
				BucketIndex: dec.BucketIndex,
			}
			n := Notification{
				Type:            TypeReminder,
				EventID:         evt.ID,
				Host:            host,
				SentAt:          now,
				Severity:        dec.Severity,
				MessageKey:      evt.MessageKey,
				ActionKey:       actionKey(dec.Severity),
				Channel:         evt.Channel,
				DeferralOptions: formatOptions(dec.Bucket.DeferralOptions),
				RebootAllowed:   cfg.Reboot.SystemReboot.Enabled,
			}
			if err := p.deliver(ctx, cfg, n); err != nil {
				metrics.DeliveryFailuresTotal.Inc()
				p.logger.Warn("delivering reminder", "error", err)
				failed = true
				return nil
			}
			if err := tx.AppendEvent(evt); err != nil {
				return err
			}
			sent = &n

		case schedule.ActionTransition:
			evt := model.NotificationEvent{
				ID:          uuid.New().String(),
				Host:        host,
				SentAt:      now,
				Kind:        model.EventTransition,
				MessageKey:  dec.TransitionKey,
				Channel:     cfg.Notification.Type,
				Interaction: model.InteractionNoneYet,
				BucketIndex: schedule.NoBucket,
				RefID:       last.ID,
			}
			if err := tx.AppendEvent(evt); err != nil {
				return err
			}
			n := Notification{
				Type:       TypeTransition,
				EventID:    evt.ID,
				Host:       host,
				SentAt:     now,
				MessageKey: dec.TransitionKey,
				ActionKey:  model.MsgActionNotRequired,
				Channel:    evt.Channel,
			}
			if err := p.deliver(ctx, cfg, n); err != nil {
				metrics.DeliveryFailuresTotal.Inc()
				p.logger.Warn("delivering transition", "key", dec.TransitionKey, "error", err)
			}
			sent = &n
		}
		return nil
	})
	if err != nil {
		return dec, fmt.Errorf("updating reboot state: %w", err)
	}

	p.lastTick.Store(now.UnixNano())
	p.lastDecision.Store(&dec)
	p.recordRequirement(req, now)

	switch {
	case failed:
		p.logger.Debug("reminder due but not delivered", "host", host)
	case sent != nil:
		p.logger.Info("notification sent",
			"type", sent.Type, "key", sent.MessageKey, "bucket", dec.BucketIndex, "escalated", dec.Escalated)
	default:
		p.logger.Debug("reminder suppressed", "reason", dec.Reason, "bucket", dec.BucketIndex)
	}
	return dec, nil
}

// restartedSince reports whether the host restarted after t, either as
// seen from its boot time or from a completed restart we ran ourselves.
func (p *Poller) restartedSince(tx store.Tx, t time.Time) (bool, error) {
	if p.bootTime().After(t) {
		return true, nil
	}
	rec, err := tx.LastRebootRecord()
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Outcome == model.OutcomeCompleted && rec.FinishedAt.After(t), nil
}

func (p *Poller) deliver(ctx context.Context, cfg *model.AppConfig, n Notification) error {
	timeout := cfg.Service.DeliveryTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.notifier.Deliver(dctx, n)
}

func (p *Poller) prune(ctx context.Context) {
	days := p.config().Database.RetentionDays
	if days <= 0 {
		return
	}
	before := p.now().AddDate(0, 0, -days)
	n, err := p.store.PruneEvents(ctx, before)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("pruning notification history", "error", err)
		}
		return
	}
	if n > 0 {
		p.logger.Info("pruned notification history", "rows", n, "before", before)
	}
}

func (p *Poller) recordUnavailable(errs []error) {
	names := make([]model.ProbeName, 0, len(errs))
	for _, err := range errs {
		var pe *detect.ProbeUnavailableError
		if errors.As(err, &pe) {
			names = append(names, pe.Probe)
			metrics.ProbeFailuresTotal.WithLabelValues(string(pe.Probe)).Inc()
		}
	}
	p.unavailable.Store(&names)
}

func (p *Poller) recordRequirement(req model.RebootRequirement, now time.Time) {
	if req.Required {
		metrics.RebootRequired.Set(1)
	} else {
		metrics.RebootRequired.Set(0)
	}
	metrics.PendingSeconds.Set(req.Elapsed(now).Seconds())
}

func (p *Poller) host() string { return p.config().Service.Host }

func (p *Poller) interval() time.Duration {
	d := p.config().Service.CheckInterval.Duration()
	if d <= 0 {
		return time.Minute
	}
	return d
}

// inEpisode reports whether evt was sent during the episode that started
// at first.
func inEpisode(evt *model.NotificationEvent, first *time.Time) bool {
	return evt != nil && first != nil && !evt.SentAt.Before(*first)
}

func reminderKey(s model.Severity) model.MessageKey {
	if s == model.SeverityRequired {
		return model.MsgRebootRequired
	}
	return model.MsgRebootRecommended
}

func actionKey(s model.Severity) model.MessageKey {
	if s == model.SeverityRequired {
		return model.MsgActionRequired
	}
	return model.MsgActionRecommended
}
