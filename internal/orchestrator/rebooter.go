package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Rebooter restarts the host.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// CommandRebooter runs a configured command such as "shutdown -r now".
type CommandRebooter struct {
	Command []string
}

// Reboot runs the command and returns its combined output on failure.
func (r CommandRebooter) Reboot(ctx context.Context) error {
	if len(r.Command) == 0 {
		return errors.New("no reboot command configured")
	}
	out, err := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("running %s: %w", r.Command[0], err)
		}
		return fmt.Errorf("running %s: %w: %s", r.Command[0], err, msg)
	}
	return nil
}

// RebooterFunc adapts a function to the Rebooter interface.
type RebooterFunc func(ctx context.Context) error

func (f RebooterFunc) Reboot(ctx context.Context) error { return f(ctx) }
