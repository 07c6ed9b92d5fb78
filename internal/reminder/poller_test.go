package reminder_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/rebootreminder/internal/detect"
	"github.com/nhle/rebootreminder/internal/metrics"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/orchestrator"
	"github.com/nhle/rebootreminder/internal/reminder"
	"github.com/nhle/rebootreminder/internal/schedule"
	"github.com/nhle/rebootreminder/internal/store"
	"github.com/nhle/rebootreminder/internal/store/storetest"
)

const host = "ws-01"

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []reminder.Notification
	fail atomic.Bool
}

func (r *recordingNotifier) Deliver(_ context.Context, n reminder.Notification) error {
	if r.fail.Load() {
		return errors.New("no presentation client")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) ofType(typ reminder.NotificationType) []reminder.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []reminder.Notification
	for _, n := range r.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	poller   *reminder.Poller
	store    store.Store
	clock    *fakeClock
	notifier *recordingNotifier
	pending  *atomic.Bool
	booted   *atomic.Int64
	cfg      *model.AppConfig
}

func newHarness(t *testing.T, mutate func(cfg *model.AppConfig)) *harness {
	t.Helper()

	cfg := model.DefaultConfig()
	cfg.Service.Host = host
	cfg.Notification.QuietHours.Enabled = false
	cfg.Reboot.SystemReboot.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		store:    storetest.NewTestStore(t),
		clock:    &fakeClock{t: t0},
		notifier: &recordingNotifier{},
		pending:  &atomic.Bool{},
		booted:   &atomic.Int64{},
		cfg:      cfg,
	}
	h.booted.Store(t0.Add(-24 * time.Hour).UnixNano())

	probe := detect.NewFuncProbe("reboot-required-file", func(context.Context) (bool, error) {
		return h.pending.Load(), nil
	})

	var orch *orchestrator.Orchestrator
	var p *reminder.Poller
	if cfg.Reboot.SystemReboot.Enabled {
		orch = orchestrator.New(orchestrator.Options{
			Config:   func() model.SystemRebootConfig { return cfg.Reboot.SystemReboot },
			Rebooter: orchestrator.RebooterFunc(func(context.Context) error { return nil }),
			OnChange: func(o orchestrator.Orchestration) { p.OnOrchestration(o) },
		})
		t.Cleanup(orch.Shutdown)
	}

	p = reminder.New(reminder.Options{
		Store:  h.store,
		Config: func() *model.AppConfig { return cfg },
		Probes: func(*model.AppConfig) ([]detect.Registered, error) {
			return []detect.Registered{{Probe: probe, Hard: true}}, nil
		},
		Notifier:     h.notifier,
		Orchestrator: orch,
		Now:          h.clock.Now,
		BootTime:     func() time.Time { return time.Unix(0, h.booted.Load()) },
	})
	h.poller = p
	return h
}

func (h *harness) tick(t *testing.T) schedule.Decision {
	t.Helper()
	dec, err := h.poller.Tick(context.Background())
	require.NoError(t, err)
	return dec
}

func (h *harness) events(t *testing.T, kind model.EventKind) []model.NotificationEvent {
	t.Helper()
	evts, err := h.store.ListNotificationEvents(context.Background(), store.EventFilter{Host: host, Kind: kind})
	require.NoError(t, err)
	return evts
}

func TestPoller_ReminderCadence(t *testing.T) {
	h := newHarness(t, nil)

	dec := h.tick(t)
	assert.Equal(t, schedule.ActionSuppress, dec.Action)
	assert.Equal(t, schedule.ReasonNotRequired, dec.Reason)

	h.pending.Store(true)
	dec = h.tick(t)
	assert.Equal(t, schedule.ReasonNoTimeframe, dec.Reason, "nothing is sent before the first timeframe")

	req, err := h.store.Requirement(context.Background(), host)
	require.NoError(t, err)
	require.NotNil(t, req.FirstDetectedAt)
	assert.True(t, t0.Equal(*req.FirstDetectedAt))
	assert.True(t, req.Hard)

	h.clock.Advance(25 * time.Hour)
	dec = h.tick(t)
	require.Equal(t, schedule.ActionEmit, dec.Action)
	assert.Equal(t, 0, dec.BucketIndex)

	reminders := h.notifier.ofType(reminder.TypeReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, model.MsgRebootRequired, reminders[0].MessageKey)
	assert.Equal(t, model.MsgActionRequired, reminders[0].ActionKey)
	assert.Equal(t, []string{"1h", "4h", "8h", "24h"}, reminders[0].DeferralOptions)
	assert.NotEmpty(t, reminders[0].EventID)

	stored := h.events(t, model.EventReminder)
	require.Len(t, stored, 1)
	assert.Equal(t, reminders[0].EventID, stored[0].ID)
	assert.Equal(t, model.SeverityRequired, stored[0].Severity)

	h.clock.Advance(time.Hour)
	dec = h.tick(t)
	assert.Equal(t, schedule.ReasonIntervalNotElapsed, dec.Reason)

	h.clock.Advance(3 * time.Hour)
	dec = h.tick(t)
	assert.Equal(t, schedule.ActionEmit, dec.Action)
	assert.Len(t, h.events(t, model.EventReminder), 2)

	// FirstDetectedAt never moves while the requirement stays pending.
	req, err = h.store.Requirement(context.Background(), host)
	require.NoError(t, err)
	assert.True(t, t0.Equal(*req.FirstDetectedAt))
}

func TestPoller_EscalationResetsInterval(t *testing.T) {
	h := newHarness(t, nil)
	h.pending.Store(true)
	h.tick(t)

	h.clock.Advance(47 * time.Hour)
	require.Equal(t, schedule.ActionEmit, h.tick(t).Action)

	// Crossing into the 49-72h bucket with its 2h interval: three hours
	// later is enough even though the first bucket wanted four.
	h.clock.Advance(3 * time.Hour)
	dec := h.tick(t)
	assert.Equal(t, schedule.ActionEmit, dec.Action)
	assert.Equal(t, 1, dec.BucketIndex)
	assert.True(t, dec.Escalated)
}

func TestPoller_FailedDeliveryIsNotRecorded(t *testing.T) {
	h := newHarness(t, nil)
	h.pending.Store(true)
	h.tick(t)
	h.clock.Advance(25 * time.Hour)

	h.notifier.fail.Store(true)
	dec := h.tick(t)
	assert.Equal(t, schedule.ActionEmit, dec.Action)
	assert.Empty(t, h.events(t, model.EventReminder))

	h.notifier.fail.Store(false)
	h.clock.Advance(time.Minute)
	dec = h.tick(t)
	assert.Equal(t, schedule.ActionEmit, dec.Action, "an undelivered reminder is retried on the next tick")
	assert.Len(t, h.events(t, model.EventReminder), 1)
}

func TestPoller_Defer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.pending.Store(true)
	h.tick(t)

	_, err := h.poller.Defer(ctx, "", "alice", time.Hour)
	assert.ErrorIs(t, err, schedule.ErrInvalidDeferral, "no timeframe is active yet")

	h.clock.Advance(25 * time.Hour)
	require.Equal(t, schedule.ActionEmit, h.tick(t).Action)
	reminderID := h.notifier.ofType(reminder.TypeReminder)[0].EventID

	_, err = h.poller.Defer(ctx, reminderID, "alice", 3*time.Hour)
	assert.ErrorIs(t, err, schedule.ErrInvalidDeferral)

	state, err := h.poller.Defer(ctx, reminderID, "alice", 8*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, state.ActiveUntil)
	assert.True(t, h.clock.Now().Add(8*time.Hour).Equal(*state.ActiveUntil))
	assert.Equal(t, 1, state.PostponeCount)

	postponed := h.notifier.ofType(reminder.TypePostponed)
	require.Len(t, postponed, 1)
	assert.Equal(t, []string{"8h"}, postponed[0].Args)

	interactions := h.events(t, model.EventInteraction)
	require.Len(t, interactions, 1)
	assert.Equal(t, model.InteractionDeferred, interactions[0].Interaction)
	assert.Equal(t, reminderID, interactions[0].RefID)
	assert.Equal(t, "alice", interactions[0].UserIdentity)
	require.NotNil(t, interactions[0].DeferralChosen)
	assert.Equal(t, 8*time.Hour, *interactions[0].DeferralChosen)

	h.clock.Advance(5 * time.Hour)
	dec := h.tick(t)
	assert.Equal(t, schedule.ReasonDeferred, dec.Reason)

	h.clock.Advance(3 * time.Hour)
	dec = h.tick(t)
	assert.Equal(t, schedule.ActionEmit, dec.Action)

	d, err := h.store.Deferral(ctx, host)
	require.NoError(t, err)
	assert.Nil(t, d.ActiveUntil, "expired deferrals are cleared")
	assert.Equal(t, 1, d.PostponeCount)
}

func TestPoller_DeferWhenNothingPending(t *testing.T) {
	h := newHarness(t, nil)
	h.tick(t)
	_, err := h.poller.Defer(context.Background(), "", "alice", time.Hour)
	assert.ErrorIs(t, err, reminder.ErrNothingPending)
}

func TestPoller_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		restarted bool
		want      model.MessageKey
	}{
		{name: "cleared without restart", restarted: false, want: model.MsgRebootCancelled},
		{name: "cleared by restart", restarted: true, want: model.MsgRebootCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.pending.Store(true)
			h.tick(t)
			h.clock.Advance(25 * time.Hour)
			require.Equal(t, schedule.ActionEmit, h.tick(t).Action)

			h.clock.Advance(time.Hour)
			if tt.restarted {
				h.booted.Store(h.clock.Now().Add(-time.Minute).UnixNano())
			}
			h.pending.Store(false)
			dec := h.tick(t)
			assert.Equal(t, schedule.ActionTransition, dec.Action)
			assert.Equal(t, tt.want, dec.TransitionKey)

			transitions := h.notifier.ofType(reminder.TypeTransition)
			require.Len(t, transitions, 1)
			assert.Equal(t, tt.want, transitions[0].MessageKey)
			assert.Len(t, h.events(t, model.EventTransition), 1)

			// Only the edge produces a transition.
			h.clock.Advance(time.Hour)
			assert.Equal(t, schedule.ActionSuppress, h.tick(t).Action)
		})
	}
}

func TestPoller_NoTransitionWithoutReminder(t *testing.T) {
	h := newHarness(t, nil)
	h.pending.Store(true)
	h.tick(t)
	h.clock.Advance(time.Hour)
	h.pending.Store(false)
	dec := h.tick(t)
	assert.Equal(t, schedule.ActionSuppress, dec.Action)
	assert.Empty(t, h.events(t, model.EventTransition))
}

func TestPoller_Interactions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	err := h.poller.Acknowledge(ctx, "", "alice")
	assert.ErrorIs(t, err, store.ErrNotFound, "nothing to acknowledge yet")

	h.pending.Store(true)
	h.tick(t)
	h.clock.Advance(25 * time.Hour)
	h.tick(t)
	id := h.notifier.ofType(reminder.TypeReminder)[0].EventID

	require.NoError(t, h.poller.MarkShown(ctx, id, "alice"))
	require.NoError(t, h.poller.Acknowledge(ctx, "", "alice"))
	require.NoError(t, h.poller.Dismiss(ctx, id, "bob"))

	assert.ErrorIs(t, h.poller.Acknowledge(ctx, "missing", "alice"), store.ErrNotFound)

	interactions := h.events(t, model.EventInteraction)
	require.Len(t, interactions, 3)
	for _, evt := range interactions {
		assert.Equal(t, id, evt.RefID)
	}
	assert.Equal(t, model.InteractionDismissed, interactions[0].Interaction)

	// Interactions may only refer to reminders.
	err = h.poller.Acknowledge(ctx, interactions[0].ID, "alice")
	assert.ErrorIs(t, err, reminder.ErrNotReminder)
}

func TestPoller_RestartNowDisabled(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.poller.RestartNow(context.Background(), "", "alice")
	assert.ErrorIs(t, err, orchestrator.ErrRebootDisabled)
}

func TestPoller_RestartNowThenCancel(t *testing.T) {
	h := newHarness(t, func(cfg *model.AppConfig) {
		cfg.Reboot.SystemReboot.Enabled = true
		cfg.Reboot.SystemReboot.ShowConfirmation = true
		cfg.Reboot.SystemReboot.ConfirmationTimeoutSeconds = 0
		cfg.Reboot.SystemReboot.CountdownSeconds = 3600
	})
	ctx := context.Background()

	o, err := h.poller.RestartNow(ctx, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateConfirmPending, o.State)

	st, err := h.poller.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Orchestration)
	assert.Equal(t, string(orchestrator.StateConfirmPending), st.Orchestration.State)

	o, err = h.poller.Confirm("alice")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateCountdownRunning, o.State)

	o, err = h.poller.Cancel("alice")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateCancelled, o.State)

	history, err := h.store.ListRebootHistory(ctx, host, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.OutcomeCancelled, history[0].Outcome)
	assert.Equal(t, "alice", history[0].RequestedBy)

	var states []string
	for _, n := range h.notifier.ofType(reminder.TypeOrchestration) {
		states = append(states, n.Orchestration.State)
	}
	assert.Equal(t, []string{"confirm-pending", "countdown-running", "cancelled"}, states)

	interactions := h.events(t, model.EventInteraction)
	require.Len(t, interactions, 1)
	assert.Equal(t, model.InteractionRestartNow, interactions[0].Interaction)
}

func TestPoller_Status(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.pending.Store(true)
	h.tick(t)
	h.clock.Advance(50 * time.Hour)
	h.tick(t)

	st, err := h.poller.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, host, st.Host)
	assert.True(t, st.Required)
	assert.Equal(t, model.SeverityRequired, st.Severity)
	assert.Equal(t, "50h", st.Pending)
	assert.Equal(t, 1, st.BucketIndex)
	assert.Equal(t, "2h", st.ReminderInterval)
	assert.Equal(t, []string{"1h", "2h", "4h"}, st.DeferralOptions)
	require.NotNil(t, st.LastReminder)
	assert.Equal(t, "emit", st.LastDecision)
	require.NotNil(t, st.LastTickAt)
	assert.False(t, st.RebootAllowed)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx) }()

	assert.Eventually(t, func() bool { return !h.poller.LastTick().IsZero() }, 2*time.Second, 5*time.Millisecond)
	h.poller.Refresh()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPoller_RunCountsTicks(t *testing.T) {
	h := newHarness(t, nil)
	ok := metrics.TicksTotal.WithLabelValues("ok")
	before := testutil.ToFloat64(ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx) }()

	assert.Eventually(t, func() bool { return testutil.ToFloat64(ok) > before }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestPoller_HistoryAndWelcome(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	n, err := h.poller.Welcome(ctx)
	require.NoError(t, err)
	assert.Equal(t, reminder.TypeStatus, n.Type)
	assert.Equal(t, model.MsgActionNotRequired, n.ActionKey)
	require.NotNil(t, n.Status)

	h.pending.Store(true)
	h.tick(t)
	h.clock.Advance(25 * time.Hour)
	h.tick(t)
	require.NoError(t, h.poller.Acknowledge(ctx, "", "alice"))

	n, err = h.poller.Welcome(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MsgRebootRequired, n.MessageKey)
	assert.Equal(t, h.notifier.ofType(reminder.TypeReminder)[0].EventID, n.EventID)

	hist, err := h.poller.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, hist.Events, 2)
	assert.Empty(t, hist.Reboots)
}
