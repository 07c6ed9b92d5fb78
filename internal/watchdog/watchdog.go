// Package watchdog restarts the agent when it stops answering health
// checks, giving up after a bounded number of consecutive failures.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/rebootreminder/internal/metrics"
)

// Action is the supervisor's verdict for one tick.
type Action int

const (
	ActionContinue Action = iota
	ActionRestartNow
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionRestartNow:
		return "restart-now"
	case ActionGiveUp:
		return "give-up"
	default:
		return "continue"
	}
}

// WatchdogExhaustedError is the terminal alert raised once the agent has
// failed more consecutive checks than restarts are allowed.
type WatchdogExhaustedError struct {
	Failures int
	LastErr  error
}

func (e *WatchdogExhaustedError) Error() string {
	return fmt.Sprintf("watchdog giving up after %d consecutive failures: %v", e.Failures, e.LastErr)
}

func (e *WatchdogExhaustedError) Unwrap() error { return e.LastErr }

// IsExhausted reports whether err (or any error in its chain) is a
// WatchdogExhaustedError.
func IsExhausted(err error) bool {
	var we *WatchdogExhaustedError
	return errors.As(err, &we)
}

// HealthProbe reports whether the supervised process is healthy. A nil
// error means healthy.
type HealthProbe interface {
	Check(ctx context.Context) error
}

// Restarter restarts the supervised process.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Config holds the supervisor's limits.
type Config struct {
	CheckInterval      time.Duration
	MaxRestartAttempts int
	RestartDelay       time.Duration
	ProbeTimeout       time.Duration
}

// State is the supervisor's counters. GivingUp is terminal for the
// lifetime of the process.
type State struct {
	ConsecutiveFailures int
	LastRestartAt       *time.Time
	GivingUp            bool
}

// Supervisor implements the bounded self-healing loop.
type Supervisor struct {
	cfg       Config
	probe     HealthProbe
	restarter Restarter
	alert     func(*WatchdogExhaustedError)
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	state   State
	lastErr error
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithAlert registers fn to receive the exhaustion alert. It is called at
// most once.
func WithAlert(fn func(*WatchdogExhaustedError)) Option {
	return func(s *Supervisor) { s.alert = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// New creates a Supervisor.
func New(cfg Config, probe HealthProbe, restarter Restarter, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		probe:     probe,
		restarter: restarter,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ProbeTimeout <= 0 {
		s.cfg.ProbeTimeout = 5 * time.Second
	}
	return s
}

// State returns a copy of the counters.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnTick probes once and decides. An unhealthy probe increments the failure
// count and asks for a restart while the count is within the limit; past
// the limit the supervisor gives up for good and alerts once. A healthy
// probe resets the count.
func (s *Supervisor) OnTick(ctx context.Context) Action {
	s.mu.Lock()
	if s.state.GivingUp {
		s.mu.Unlock()
		return ActionGiveUp
	}
	s.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	err := s.probe.Check(pctx)
	cancel()

	s.mu.Lock()
	if err == nil {
		if s.state.ConsecutiveFailures > 0 {
			s.logger.Info("agent healthy again", "after_failures", s.state.ConsecutiveFailures)
		}
		s.state.ConsecutiveFailures = 0
		s.lastErr = nil
		s.mu.Unlock()
		return ActionContinue
	}

	metrics.WatchdogFailuresTotal.Inc()
	s.state.ConsecutiveFailures++
	s.lastErr = err
	failures := s.state.ConsecutiveFailures

	if failures <= s.cfg.MaxRestartAttempts {
		s.mu.Unlock()
		s.logger.Warn("agent unhealthy", "failures", failures, "max", s.cfg.MaxRestartAttempts, "error", err)
		return ActionRestartNow
	}

	s.state.GivingUp = true
	exhausted := &WatchdogExhaustedError{Failures: failures, LastErr: err}
	s.mu.Unlock()

	metrics.WatchdogGivingUp.Set(1)
	s.logger.Error("watchdog giving up", "failures", failures, "error", err)
	if s.alert != nil {
		s.alert(exhausted)
	}
	return ActionGiveUp
}

// Run ticks at the configured interval until ctx is done or the supervisor
// gives up, in which case it returns the WatchdogExhaustedError.
func (s *Supervisor) Run(ctx context.Context) error {
	interval := s.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("watchdog started",
		"interval", interval, "max_restart_attempts", s.cfg.MaxRestartAttempts, "restart_delay", s.cfg.RestartDelay)

	last := s.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := s.now()
		if gap := now.Sub(last); gap > 2*interval {
			s.logger.Info("long gap since last check, possible system resume", "gap", gap.Round(time.Second))
		}
		last = now

		switch s.OnTick(ctx) {
		case ActionRestartNow:
			if err := s.restart(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("restarting agent", "error", err)
			}
		case ActionGiveUp:
			s.mu.Lock()
			exhausted := &WatchdogExhaustedError{Failures: s.state.ConsecutiveFailures, LastErr: s.lastErr}
			s.mu.Unlock()
			return exhausted
		}
	}
}

// restart waits the restart delay and then restarts the agent.
func (s *Supervisor) restart(ctx context.Context) error {
	if s.cfg.RestartDelay > 0 {
		timer := time.NewTimer(s.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	err := s.restarter.Restart(ctx)

	s.mu.Lock()
	now := s.now()
	s.state.LastRestartAt = &now
	s.mu.Unlock()

	if err != nil {
		metrics.WatchdogRestartsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.WatchdogRestartsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("agent restarted")
	return nil
}
