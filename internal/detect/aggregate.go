// Package detect combines independent restart signals into one status.
package detect

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/rebootreminder/internal/model"
)

// defaultProbeTimeout applies to probes registered without a timeout.
const defaultProbeTimeout = 10 * time.Second

// Evaluation is the aggregate of one round of probe results.
type Evaluation struct {
	Required bool
	Hard     bool

	// Reasons lists the probes that reported true, sorted by name.
	Reasons []model.ProbeName
}

// Evaluate ORs probe results together. hard names the probes whose true
// result makes the requirement hard. The result depends only on the
// inputs, so equal inputs always produce equal evaluations.
func Evaluate(results map[model.ProbeName]bool, hard map[model.ProbeName]bool) Evaluation {
	var eval Evaluation
	for name, pending := range results {
		if !pending {
			continue
		}
		eval.Required = true
		eval.Reasons = append(eval.Reasons, name)
		if hard[name] {
			eval.Hard = true
		}
	}
	model.SortProbeNames(eval.Reasons)
	return eval
}

// Round is the raw output of Collect.
type Round struct {
	Results map[model.ProbeName]bool
	Hard    map[model.ProbeName]bool

	// Unavailable holds one *ProbeUnavailableError per probe that failed.
	Unavailable []error
}

// Evaluate aggregates the round.
func (r Round) Evaluate() Evaluation {
	return Evaluate(r.Results, r.Hard)
}

// Collect runs every probe concurrently, each bounded by its own timeout.
// A failing probe is logged, reported in Unavailable and counted as false;
// it never fails the round.
func Collect(ctx context.Context, probes []Registered, logger *slog.Logger) Round {
	if logger == nil {
		logger = slog.Default()
	}

	type outcome struct {
		pending bool
		err     error
	}
	outcomes := make([]outcome, len(probes))

	var g errgroup.Group
	for i, reg := range probes {
		g.Go(func() error {
			timeout := reg.Timeout
			if timeout <= 0 {
				timeout = defaultProbeTimeout
			}
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			pending, err := reg.Probe.Check(pctx)
			outcomes[i] = outcome{pending: pending, err: err}
			return nil
		})
	}
	_ = g.Wait()

	round := Round{
		Results: make(map[model.ProbeName]bool, len(probes)),
		Hard:    make(map[model.ProbeName]bool, len(probes)),
	}
	for i, reg := range probes {
		name := reg.Probe.Name()
		if reg.Hard {
			round.Hard[name] = true
		}
		if err := outcomes[i].err; err != nil {
			logger.Warn("probe unavailable", "probe", name, "error", err)
			round.Unavailable = append(round.Unavailable, &ProbeUnavailableError{Probe: name, Err: err})
			round.Results[name] = false
			continue
		}
		round.Results[name] = outcomes[i].pending
	}
	return round
}

// Observe folds an evaluation into the persisted requirement. LastCheckedAt
// always advances; FirstDetectedAt is set only on the false to true edge and
// cleared on the true to false edge, so it never moves while the requirement
// stays pending.
func Observe(req model.RebootRequirement, eval Evaluation, now time.Time) model.RebootRequirement {
	next := req
	next.LastCheckedAt = now
	next.Required = eval.Required
	next.Hard = eval.Required && eval.Hard
	next.ContributingMethods = append([]model.ProbeName(nil), eval.Reasons...)

	switch {
	case eval.Required && (!req.Required || req.FirstDetectedAt == nil):
		t := now
		next.FirstDetectedAt = &t
	case !eval.Required:
		next.FirstDetectedAt = nil
	}
	return next
}
