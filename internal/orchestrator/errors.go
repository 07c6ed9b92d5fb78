package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrRebootDisabled is returned when restarts are turned off in config.
	ErrRebootDisabled = errors.New("system reboot is disabled")

	// ErrOrchestrationConflict is returned when a restart is requested
	// while another one is still in progress.
	ErrOrchestrationConflict = errors.New("a restart is already in progress")

	// ErrNoActiveOrchestration is returned by confirm, decline and cancel
	// when there is nothing in the matching state.
	ErrNoActiveOrchestration = errors.New("no matching restart in progress")

	// ErrNotCancellable is returned once the restart command is running.
	ErrNotCancellable = errors.New("restart is already executing")
)

// RestartExecutionFailedError wraps a failure of the OS restart command.
// The orchestration ends Cancelled and is not retried.
type RestartExecutionFailedError struct {
	Err error
}

func (e *RestartExecutionFailedError) Error() string {
	return fmt.Sprintf("restart execution failed: %v", e.Err)
}

func (e *RestartExecutionFailedError) Unwrap() error { return e.Err }

// IsRestartExecutionFailed reports whether err (or any error in its chain)
// is a RestartExecutionFailedError.
func IsRestartExecutionFailed(err error) bool {
	var re *RestartExecutionFailedError
	return errors.As(err, &re)
}
