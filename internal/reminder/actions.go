package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/rebootreminder/internal/metrics"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/orchestrator"
	"github.com/nhle/rebootreminder/internal/schedule"
	"github.com/nhle/rebootreminder/internal/store"
)

var (
	// ErrNotReminder is returned when an action names an event that is not
	// a reminder.
	ErrNotReminder = errors.New("event is not a reminder")

	// ErrNothingPending is returned when deferring while no restart is
	// pending.
	ErrNothingPending = errors.New("no restart is pending")
)

// Acknowledge records that user acknowledged a reminder. An empty eventID
// refers to the latest reminder.
func (p *Poller) Acknowledge(ctx context.Context, eventID, user string) error {
	return p.respond(ctx, eventID, user, model.InteractionAcknowledged)
}

// Dismiss records that user closed a reminder without choosing anything.
func (p *Poller) Dismiss(ctx context.Context, eventID, user string) error {
	return p.respond(ctx, eventID, user, model.InteractionDismissed)
}

// MarkShown records that a reminder was displayed to user.
func (p *Poller) MarkShown(ctx context.Context, eventID, user string) error {
	return p.respond(ctx, eventID, user, model.InteractionShown)
}

func (p *Poller) respond(ctx context.Context, eventID, user string, interaction model.Interaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	err := p.store.Update(ctx, p.host(), func(tx store.Tx) error {
		ref, err := resolveRef(tx, eventID)
		if err != nil {
			return err
		}
		if ref == "" {
			return fmt.Errorf("%w: no reminder has been sent", store.ErrNotFound)
		}
		return tx.AppendEvent(interactionEvent(p.host(), now, interaction, ref, user))
	})
	if err != nil {
		return err
	}
	metrics.InteractionsTotal.WithLabelValues(string(interaction)).Inc()
	p.logger.Info("reminder interaction", "interaction", interaction, "user", user, "event_id", eventID)
	return nil
}

// Defer postpones reminders by d, which must be one of the options of the
// timeframe active right now. The previous deferral, if any, is replaced.
func (p *Poller) Defer(ctx context.Context, eventID, user string, d time.Duration) (model.DeferralState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.config()
	host := cfg.Service.Host
	now := p.now()

	var state model.DeferralState
	err := p.store.Update(ctx, host, func(tx store.Tx) error {
		req, err := tx.Requirement()
		if err != nil {
			return err
		}
		if !req.Required {
			return ErrNothingPending
		}
		ref, err := resolveRef(tx, eventID)
		if err != nil {
			return err
		}

		var active *model.Timeframe
		if bucket, _, ok := schedule.Resolve(req.Elapsed(now), cfg.Timeframes()); ok {
			active = &bucket
		}
		prev, err := tx.Deferral()
		if err != nil {
			return err
		}
		state, err = schedule.ApplyDeferral(now, d, active, prev)
		if err != nil {
			return err
		}
		if err := tx.SaveDeferral(state); err != nil {
			return err
		}

		evt := interactionEvent(host, now, model.InteractionDeferred, ref, user)
		evt.DeferralChosen = &d
		return tx.AppendEvent(evt)
	})
	if err != nil {
		return state, err
	}

	metrics.InteractionsTotal.WithLabelValues(string(model.InteractionDeferred)).Inc()
	p.logger.Info("reminders deferred",
		"user", user, "for", model.FormatTimespan(d), "until", state.ActiveUntil, "postpone_count", state.PostponeCount)

	n := Notification{
		Type:       TypePostponed,
		Host:       host,
		SentAt:     now,
		MessageKey: model.MsgRebootPostponed,
		Args:       []string{model.FormatTimespan(d)},
		Channel:    cfg.Notification.Type,
	}
	if err := p.deliver(ctx, cfg, n); err != nil {
		p.logger.Debug("delivering postponement", "error", err)
	}
	return state, nil
}

// RestartNow asks the orchestrator to restart the host on behalf of user
// and records the choice against the reminder.
func (p *Poller) RestartNow(ctx context.Context, eventID, user string) (orchestrator.Orchestration, error) {
	if p.orch == nil {
		return orchestrator.Orchestration{State: orchestrator.StateIdle}, orchestrator.ErrRebootDisabled
	}
	o, err := p.orch.Request(user)
	if err != nil {
		return o, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	err = p.store.Update(ctx, p.host(), func(tx store.Tx) error {
		ref, err := resolveRef(tx, eventID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.AppendEvent(interactionEvent(p.host(), now, model.InteractionRestartNow, ref, user))
	})
	if err != nil {
		p.logger.Warn("recording restart request", "error", err)
	}
	metrics.InteractionsTotal.WithLabelValues(string(model.InteractionRestartNow)).Inc()
	return o, nil
}

// Confirm confirms a pending restart.
func (p *Poller) Confirm(user string) (orchestrator.Orchestration, error) {
	if p.orch == nil {
		return orchestrator.Orchestration{State: orchestrator.StateIdle}, orchestrator.ErrNoActiveOrchestration
	}
	p.logger.Info("restart confirmation", "user", user)
	return p.orch.Confirm()
}

// Decline declines a pending restart.
func (p *Poller) Decline(user string) (orchestrator.Orchestration, error) {
	if p.orch == nil {
		return orchestrator.Orchestration{State: orchestrator.StateIdle}, orchestrator.ErrNoActiveOrchestration
	}
	p.logger.Info("restart declined by user", "user", user)
	return p.orch.Decline()
}

// Cancel cancels a pending or counting-down restart.
func (p *Poller) Cancel(user string) (orchestrator.Orchestration, error) {
	if p.orch == nil {
		return orchestrator.Orchestration{State: orchestrator.StateIdle}, orchestrator.ErrNoActiveOrchestration
	}
	p.logger.Info("restart cancellation", "user", user)
	return p.orch.Cancel()
}

// OnOrchestration is the orchestrator's change callback. It announces the
// transition and records finished attempts in the restart history. It
// must not be called from inside a store transaction.
func (p *Poller) OnOrchestration(o orchestrator.Orchestration) {
	metrics.OrchestrationTransitionsTotal.WithLabelValues(string(o.State)).Inc()

	cfg := p.config()
	now := p.now()
	n := Notification{
		Type:          TypeOrchestration,
		Host:          cfg.Service.Host,
		SentAt:        now,
		Channel:       cfg.Notification.Type,
		RebootAllowed: cfg.Reboot.SystemReboot.Enabled,
		Orchestration: NewOrchestrationView(o),
	}
	switch o.State {
	case orchestrator.StateConfirmPending:
		n.Orchestration.ConfirmationTitle = cfg.Reboot.SystemReboot.ConfirmationTitle
		n.Orchestration.ConfirmationMessage = cfg.Reboot.SystemReboot.ConfirmationMessage
	case orchestrator.StateCountdownRunning:
		n.MessageKey = model.MsgRebootScheduled
		if o.CountdownEndsAt != nil {
			n.Args = []string{o.CountdownEndsAt.Local().Format("15:04:05")}
		}
	case orchestrator.StateExecuting:
		n.MessageKey = model.MsgRebootInProgress
		n.Args = []string{"0s"}
	case orchestrator.StateCancelled:
		n.MessageKey = model.MsgRebootCancelled
		if o.Err != nil {
			n.ActionKey = model.MsgActionNotAvailable
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := p.deliver(ctx, cfg, n); err != nil {
		p.logger.Debug("delivering orchestration change", "state", o.State, "error", err)
	}

	if !o.State.Terminal() || o.ID == "" {
		return
	}
	rec := model.RebootRecord{
		ID:          o.ID,
		Host:        cfg.Service.Host,
		RequestedAt: o.RequestedAt,
		FinishedAt:  now,
		Outcome:     outcomeOf(o),
		RequestedBy: o.RequestedBy,
		Error:       o.ErrMessage(),
	}
	if err := p.store.Update(ctx, rec.Host, func(tx store.Tx) error {
		return tx.AppendRebootRecord(rec)
	}); err != nil {
		p.logger.Error("recording restart outcome", "id", o.ID, "outcome", rec.Outcome, "error", err)
	}
}

func outcomeOf(o orchestrator.Orchestration) model.RebootOutcome {
	switch {
	case o.State == orchestrator.StateCompleted:
		return model.OutcomeCompleted
	case o.Err != nil:
		return model.OutcomeFailed
	default:
		return model.OutcomeCancelled
	}
}

// resolveRef returns the reminder an action refers to. An empty eventID
// means the latest reminder, which may not exist.
func resolveRef(tx store.Tx, eventID string) (string, error) {
	if eventID == "" {
		last, err := tx.LastReminder()
		if err != nil || last == nil {
			return "", err
		}
		return last.ID, nil
	}
	evt, err := tx.EventByID(eventID)
	if err != nil {
		return "", err
	}
	if evt.Kind != model.EventReminder {
		return "", fmt.Errorf("%w: %s is a %s event", ErrNotReminder, eventID, evt.Kind)
	}
	return evt.ID, nil
}

func interactionEvent(host string, now time.Time, interaction model.Interaction, ref, user string) model.NotificationEvent {
	return model.NotificationEvent{
		ID:           uuid.New().String(),
		Host:         host,
		SentAt:       now,
		Kind:         model.EventInteraction,
		UserIdentity: user,
		Interaction:  interaction,
		BucketIndex:  schedule.NoBucket,
		RefID:        ref,
	}
}
