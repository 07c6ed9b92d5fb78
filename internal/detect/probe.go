package detect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/nhle/rebootreminder/internal/model"
)

// Probe answers one question: does this signal say a restart is pending?
// Implementations must honor ctx cancellation.
type Probe interface {
	Name() model.ProbeName
	Check(ctx context.Context) (bool, error)
}

// ProbeUnavailableError reports a probe that could not be evaluated this
// tick. Its result counts as false.
type ProbeUnavailableError struct {
	Probe model.ProbeName
	Err   error
}

func (e *ProbeUnavailableError) Error() string {
	return fmt.Sprintf("probe %s unavailable: %v", e.Probe, e.Err)
}

func (e *ProbeUnavailableError) Unwrap() error { return e.Err }

// IsProbeUnavailable reports whether err (or any error in its chain) is a
// ProbeUnavailableError.
func IsProbeUnavailable(err error) bool {
	var pe *ProbeUnavailableError
	return errors.As(err, &pe)
}

// Registered is a probe together with how the aggregator treats it.
type Registered struct {
	Probe   Probe
	Hard    bool
	Timeout time.Duration
}

// FileProbe reports a pending restart while a marker file exists, such as
// /var/run/reboot-required on Debian-based systems.
type FileProbe struct {
	name model.ProbeName
	path string
}

// NewFileProbe returns a probe watching path.
func NewFileProbe(name model.ProbeName, path string) *FileProbe {
	return &FileProbe{name: name, path: path}
}

func (p *FileProbe) Name() model.ProbeName { return p.name }

func (p *FileProbe) Check(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(p.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", p.path, err)
	}
}

// CommandProbe runs a command and reports a pending restart when it exits
// with PendingExitCode. Exit status 0 means no restart is needed; any other
// status, or a failure to start, makes the probe unavailable.
type CommandProbe struct {
	name            model.ProbeName
	command         string
	args            []string
	pendingExitCode int
}

// NewCommandProbe returns a probe running command with args.
func NewCommandProbe(name model.ProbeName, command string, args []string, pendingExitCode int) *CommandProbe {
	return &CommandProbe{name: name, command: command, args: args, pendingExitCode: pendingExitCode}
}

func (p *CommandProbe) Name() model.ProbeName { return p.name }

func (p *CommandProbe) Check(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	err := cmd.Run()
	if err == nil {
		return p.pendingExitCode == 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		if exitErr.ExitCode() == p.pendingExitCode {
			return true, nil
		}
		return false, fmt.Errorf("%s exited with status %d", p.command, exitErr.ExitCode())
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, fmt.Errorf("running %s: %w", p.command, err)
}

// FuncProbe adapts a function to the Probe interface.
type FuncProbe struct {
	name model.ProbeName
	fn   func(ctx context.Context) (bool, error)
}

// NewFuncProbe wraps fn as a probe.
func NewFuncProbe(name model.ProbeName, fn func(ctx context.Context) (bool, error)) *FuncProbe {
	return &FuncProbe{name: name, fn: fn}
}

func (p *FuncProbe) Name() model.ProbeName { return p.name }

func (p *FuncProbe) Check(ctx context.Context) (bool, error) { return p.fn(ctx) }

// FromConfig builds the enabled probes declared in cfgs.
func FromConfig(cfgs []model.ProbeConfig) ([]Registered, error) {
	var out []Registered
	for _, c := range cfgs {
		if !c.IsEnabled() {
			continue
		}
		var p Probe
		switch c.Type {
		case model.ProbeTypeFile:
			p = NewFileProbe(model.ProbeName(c.Name), c.Path)
		case model.ProbeTypeCommand:
			p = NewCommandProbe(model.ProbeName(c.Name), c.Command, c.Args, c.PendingExitCode)
		default:
			return nil, fmt.Errorf("probe %s: unknown type %q", c.Name, c.Type)
		}
		out = append(out, Registered{Probe: p, Hard: c.Hard, Timeout: c.Timeout.Duration()})
	}
	return out, nil
}
