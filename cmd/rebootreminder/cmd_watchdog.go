package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/rebootreminder/internal/logging"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/watchdog"
)

func runWatchdog(cmd *cobra.Command, _ []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = logger.With("component", "watchdog")

	wc := cfg.Watchdog
	if !wc.Enabled {
		logger.Info("watchdog disabled in configuration")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := watchdog.New(
		watchdog.Config{
			CheckInterval:      wc.CheckInterval(),
			MaxRestartAttempts: wc.MaxRestartAttempts,
			RestartDelay:       wc.RestartDelay(),
			ProbeTimeout:       wc.HealthTimeout(),
		},
		watchdog.HTTPHealthProbe{URL: wc.HealthURL, Client: &http.Client{Timeout: wc.HealthTimeout()}},
		watchdog.CommandRestarter{Command: wc.RestartCommand},
		watchdog.WithLogger(logger),
		watchdog.WithAlert(func(e *watchdog.WatchdogExhaustedError) {
			logger.Error("agent could not be kept running, manual intervention required",
				"service", wc.ServiceName, "failures", e.Failures, "error", e.LastErr)
		}),
	)

	logger.Info("supervising agent", "service", wc.ServiceName, "health_url", wc.HealthURL)
	return sup.Run(ctx)
}
