package main

import (
	"errors"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/nhle/rebootreminder/internal/bridge"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/watchdog"
)

const (
	exitOK        = 0
	exitError     = 1
	exitPending   = 2
	exitExhausted = 3
)

// errRebootPending makes "status --exit-code" fail while a restart is
// pending, for use from scripts.
var errRebootPending = errors.New("a restart is pending")

var (
	configPath string
	apiAddr    string
	apiToken   string
	userName   string
	jsonOutput bool
	exitStatus bool

	historyLimit int
)

var (
	rootCmd = &cobra.Command{
		Use:           "rebootreminder",
		Short:         "Remind users to restart their machine after updates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	agentCmd = &cobra.Command{
		Use:   "agent",
		Short: "Run the reminder agent and its control API",
		Args:  cobra.NoArgs,
		RunE:  runAgent,
	}

	watchdogCmd = &cobra.Command{
		Use:   "watchdog",
		Short: "Supervise the agent and restart it when it stops answering",
		Args:  cobra.NoArgs,
		RunE:  runWatchdog,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show whether a restart is pending and what the agent will do next",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent notifications and restart attempts",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	deferCmd = &cobra.Command{
		Use:   "defer [duration]",
		Short: "Postpone reminders by one of the offered durations",
		Long: "Postpone reminders by one of the durations offered for the current\n" +
			"escalation level. Without an argument the offered durations are listed\n" +
			"for selection.",
		Args: cobra.MaximumNArgs(1),
		RunE: runDefer,
	}

	restartCmd = &cobra.Command{
		Use:   "restart",
		Short: "Request a restart now",
		Args:  cobra.NoArgs,
		RunE:  simpleAction(bridge.ActionRestartNow),
	}

	confirmCmd = &cobra.Command{
		Use:   "confirm",
		Short: "Confirm a pending restart",
		Args:  cobra.NoArgs,
		RunE:  simpleAction(bridge.ActionConfirm),
	}

	declineCmd = &cobra.Command{
		Use:   "decline",
		Short: "Decline a pending restart",
		Args:  cobra.NoArgs,
		RunE:  simpleAction(bridge.ActionDecline),
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a restart countdown",
		Args:  cobra.NoArgs,
		RunE:  simpleAction(bridge.ActionCancel),
	}

	ackCmd = &cobra.Command{
		Use:   "ack [event-id]",
		Short: "Acknowledge the latest (or the given) reminder",
		Args:  cobra.MaximumNArgs(1),
		RunE:  simpleAction(bridge.ActionAcknowledge),
	}

	dismissCmd = &cobra.Command{
		Use:   "dismiss [event-id]",
		Short: "Dismiss the latest (or the given) reminder",
		Args:  cobra.MaximumNArgs(1),
		RunE:  simpleAction(bridge.ActionDismiss),
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Follow reminders in the terminal and respond to them",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	configValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate,
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the config path",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Manage the control API token in the OS keyring",
	}

	tokenSetCmd = &cobra.Command{
		Use:   "set [token]",
		Short: "Store the control API token",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTokenSet,
	}

	tokenClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored control API token",
		Args:  cobra.NoArgs,
		RunE:  runTokenClear,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", model.DefaultConfigPath(), "configuration file")
	pf.StringVar(&apiAddr, "addr", "", "agent control API address (defaults to api.listen)")
	pf.StringVar(&apiToken, "token", "", "control API token (defaults to api.token or the keyring)")
	pf.StringVarP(&userName, "user", "u", currentUser(), "user identity recorded with actions")

	for _, cmd := range []*cobra.Command{statusCmd, historyCmd, configShowCmd} {
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	}
	statusCmd.Flags().BoolVar(&exitStatus, "exit-code", false, "exit with status 2 when a restart is pending")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "rows of each history to show")

	rootCmd.AddCommand(agentCmd, watchdogCmd)
	rootCmd.AddCommand(statusCmd, historyCmd, watchCmd)
	rootCmd.AddCommand(deferCmd, restartCmd, confirmCmd, declineCmd, cancelCmd, ackCmd, dismissCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd, configInitCmd)

	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenSetCmd, tokenClearCmd)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case watchdog.IsExhausted(err):
		return exitExhausted
	case errors.Is(err, errRebootPending):
		return exitPending
	default:
		return exitError
	}
}
