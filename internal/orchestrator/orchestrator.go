// Package orchestrator drives an operator-initiated restart through
// confirmation, countdown and execution.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/rebootreminder/internal/model"
)

// State is a step of the restart state machine.
type State string

const (
	StateIdle             State = "idle"
	StateConfirmPending   State = "confirm-pending"
	StateCountdownRunning State = "countdown-running"
	StateExecuting        State = "executing"
	StateCompleted        State = "completed"
	StateCancelled        State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateCompleted || s == StateCancelled
}

// executeTimeout bounds the OS restart command.
const executeTimeout = 2 * time.Minute

// Orchestration is a snapshot of one restart attempt.
type Orchestration struct {
	ID              string     `json:"id"`
	State           State      `json:"state"`
	RequestedBy     string     `json:"requested_by"`
	RequestedAt     time.Time  `json:"requested_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CountdownEndsAt *time.Time `json:"countdown_ends_at,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`

	// Err is set when execution failed.
	Err error `json:"-"`
}

// ErrMessage returns Err as text, or "".
func (o Orchestration) ErrMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// instance is the live state behind an Orchestration. It is guarded by
// Orchestrator.mu.
type instance struct {
	Orchestration

	// stop is closed when the instance leaves its waiting state through
	// a user action, releasing the goroutine that waits on a timer.
	stop chan struct{}
}

// Options configures an Orchestrator.
type Options struct {
	// Config returns the current restart settings. It is read when a
	// restart is requested.
	Config func() model.SystemRebootConfig

	Rebooter Rebooter
	Logger   *slog.Logger

	// OnChange receives a snapshot after every state transition, in the
	// order the transitions happen. It runs outside the state lock but
	// must not start, confirm or cancel a restart itself.
	OnChange func(Orchestration)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator owns at most one restart attempt at a time.
type Orchestrator struct {
	mu     sync.Mutex
	active *instance

	// pubMu is taken before mu is released so that OnChange calls keep
	// transition order while running outside mu.
	pubMu sync.Mutex

	config   func() model.SystemRebootConfig
	rebooter Rebooter
	logger   *slog.Logger
	onChange func(Orchestration)
	now      func() time.Time
	wg       sync.WaitGroup
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		config:   opts.Config,
		rebooter: opts.Rebooter,
		logger:   opts.Logger,
		onChange: opts.OnChange,
		now:      opts.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.config == nil {
		o.config = func() model.SystemRebootConfig { return model.SystemRebootConfig{} }
	}
	return o
}

// Current returns the active orchestration, if any.
func (o *Orchestrator) Current() (Orchestration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return Orchestration{State: StateIdle}, false
	}
	return o.active.Orchestration, true
}

// Request starts a restart for requestedBy. With confirmation enabled the
// attempt waits in ConfirmPending; otherwise the countdown starts at once.
func (o *Orchestrator) Request(requestedBy string) (Orchestration, error) {
	cfg := o.config()
	if !cfg.Enabled {
		return Orchestration{State: StateIdle}, ErrRebootDisabled
	}

	o.mu.Lock()
	if o.active != nil {
		cur := o.active.Orchestration
		o.mu.Unlock()
		return cur, ErrOrchestrationConflict
	}

	now := o.now()
	inst := &instance{
		Orchestration: Orchestration{
			ID:          uuid.New().String(),
			RequestedBy: requestedBy,
			RequestedAt: now,
		},
		stop: make(chan struct{}),
	}
	o.active = inst

	if cfg.ShowConfirmation {
		inst.State = StateConfirmPending
		snap := inst.Orchestration
		o.wg.Add(1)
		go o.awaitConfirmation(inst, inst.stop, cfg.ConfirmationTimeout())
		o.unlockAndPublish(snap)
		o.logger.Info("restart requested, awaiting confirmation", "id", snap.ID, "requested_by", requestedBy)
		return snap, nil
	}

	snap := o.startCountdownLocked(inst, cfg.Countdown())
	o.unlockAndPublish(snap)
	o.logger.Info("restart requested, countdown started", "id", snap.ID, "requested_by", requestedBy, "ends_at", snap.CountdownEndsAt)
	return snap, nil
}

// Confirm moves a pending confirmation into the countdown.
func (o *Orchestrator) Confirm() (Orchestration, error) {
	cfg := o.config()

	o.mu.Lock()
	inst := o.active
	if inst == nil || inst.State != StateConfirmPending {
		o.mu.Unlock()
		return Orchestration{State: StateIdle}, ErrNoActiveOrchestration
	}

	now := o.now()
	inst.ConfirmedAt = &now
	close(inst.stop)
	inst.stop = make(chan struct{})
	snap := o.startCountdownLocked(inst, cfg.Countdown())
	o.unlockAndPublish(snap)

	o.logger.Info("restart confirmed", "id", snap.ID, "ends_at", snap.CountdownEndsAt)
	return snap, nil
}

// Decline abandons a pending confirmation. The attempt returns to Idle and
// is discarded.
func (o *Orchestrator) Decline() (Orchestration, error) {
	o.mu.Lock()
	inst := o.active
	if inst == nil || inst.State != StateConfirmPending {
		o.mu.Unlock()
		return Orchestration{State: StateIdle}, ErrNoActiveOrchestration
	}
	snap := o.finishLocked(inst, StateIdle)
	close(inst.stop)
	o.unlockAndPublish(snap)

	o.logger.Info("restart declined", "id", snap.ID)
	return snap, nil
}

// Cancel stops a running countdown. A pending confirmation is treated as
// declined. Once Executing has been entered the restart can no longer be
// cancelled.
func (o *Orchestrator) Cancel() (Orchestration, error) {
	o.mu.Lock()
	inst := o.active
	if inst == nil {
		o.mu.Unlock()
		return Orchestration{State: StateIdle}, ErrNoActiveOrchestration
	}

	switch inst.State {
	case StateConfirmPending:
		o.mu.Unlock()
		return o.Decline()
	case StateExecuting:
		cur := inst.Orchestration
		o.mu.Unlock()
		return cur, ErrNotCancellable
	}

	inst.CancelRequested = true
	snap := o.finishLocked(inst, StateCancelled)
	close(inst.stop)
	o.unlockAndPublish(snap)

	o.logger.Info("restart cancelled", "id", snap.ID)
	return snap, nil
}

// Shutdown cancels any countdown and waits for background goroutines. A
// restart that is already executing is waited for, not interrupted.
func (o *Orchestrator) Shutdown() {
	if _, err := o.Cancel(); err != nil && err != ErrNoActiveOrchestration && err != ErrNotCancellable {
		o.logger.Warn("cancelling restart on shutdown", "error", err)
	}
	o.wg.Wait()
}

func (o *Orchestrator) startCountdownLocked(inst *instance, countdown time.Duration) Orchestration {
	ends := o.now().Add(countdown)
	inst.State = StateCountdownRunning
	inst.CountdownEndsAt = &ends
	o.wg.Add(1)
	go o.runCountdown(inst, inst.stop, countdown)
	return inst.Orchestration
}

// finishLocked moves inst to a terminal state and releases the slot.
func (o *Orchestrator) finishLocked(inst *instance, state State) Orchestration {
	inst.State = state
	if o.active == inst {
		o.active = nil
	}
	return inst.Orchestration
}

func (o *Orchestrator) awaitConfirmation(inst *instance, stop <-chan struct{}, timeout time.Duration) {
	defer o.wg.Done()

	if timeout <= 0 {
		<-stop
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-stop:
		return
	case <-timer.C:
	}

	o.mu.Lock()
	if o.active != inst || inst.State != StateConfirmPending {
		o.mu.Unlock()
		return
	}
	snap := o.finishLocked(inst, StateIdle)
	o.unlockAndPublish(snap)
	o.logger.Info("restart confirmation timed out", "id", snap.ID)
}

func (o *Orchestrator) runCountdown(inst *instance, stop <-chan struct{}, countdown time.Duration) {
	defer o.wg.Done()

	timer := time.NewTimer(countdown)
	defer timer.Stop()

	select {
	case <-stop:
		return
	case <-timer.C:
	}

	// A cancel that took the lock first wins.
	o.mu.Lock()
	if inst.CancelRequested || inst.State != StateCountdownRunning {
		o.mu.Unlock()
		return
	}
	inst.State = StateExecuting
	o.unlockAndPublish(inst.Orchestration)

	o.logger.Warn("executing restart", "id", inst.ID)
	err := o.execute()

	o.mu.Lock()
	var snap Orchestration
	if err != nil {
		inst.Err = &RestartExecutionFailedError{Err: err}
		snap = o.finishLocked(inst, StateCancelled)
	} else {
		snap = o.finishLocked(inst, StateCompleted)
	}
	o.unlockAndPublish(snap)

	if err != nil {
		o.logger.Error("restart failed", "id", snap.ID, "error", err)
	}
}

func (o *Orchestrator) execute() error {
	if o.rebooter == nil {
		return ErrRebootDisabled
	}
	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()
	return o.rebooter.Reboot(ctx)
}

// unlockAndPublish releases mu and hands snap to OnChange. pubMu is
// acquired before mu is released, so callbacks observe transitions in the
// order they happened.
func (o *Orchestrator) unlockAndPublish(snap Orchestration) {
	o.pubMu.Lock()
	o.mu.Unlock()
	defer o.pubMu.Unlock()
	if o.onChange != nil {
		o.onChange(snap)
	}
}
