package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/rebootreminder/internal/bridge"
	"github.com/nhle/rebootreminder/internal/credential"
	"github.com/nhle/rebootreminder/internal/logging"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/orchestrator"
	"github.com/nhle/rebootreminder/internal/reminder"
	"github.com/nhle/rebootreminder/internal/store"
)

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	token, err := credential.ResolveToken(cfg.API.Token)
	if err != nil {
		logger.Warn("reading api token from keyring", "error", err)
	}
	if token == "" {
		logger.Warn("control api actions are not protected by a token")
	}

	holder := model.NewConfigHolder(configPath, cfg, logger)
	hub := bridge.NewHub(cfg.API.AllowedOrigins, logger.With("component", "hub"))

	var poller *reminder.Poller
	orch := orchestrator.New(orchestrator.Options{
		Config: func() model.SystemRebootConfig { return holder.Current().Reboot.SystemReboot },
		Rebooter: orchestrator.RebooterFunc(func(ctx context.Context) error {
			return orchestrator.CommandRebooter{Command: holder.Current().Reboot.SystemReboot.Command}.Reboot(ctx)
		}),
		Logger:   logger.With("component", "orchestrator"),
		OnChange: func(o orchestrator.Orchestration) { poller.OnOrchestration(o) },
	})
	poller = reminder.New(reminder.Options{
		Store:        s,
		Config:       holder.Current,
		Notifier:     hub,
		Orchestrator: orch,
		Logger:       logger.With("component", "reminder"),
	})
	hub.SetWelcome(poller.Welcome)
	holder.OnReload(func(*model.AppConfig) { poller.Refresh() })

	server := bridge.NewServer(bridge.Options{
		Engine: poller,
		Hub:    hub,
		Config: holder.Current,
		Token:  token,
		Logger: logger.With("component", "api"),
	})

	logger.Info("agent starting",
		"host", cfg.Service.Host,
		"config", configPath,
		"db", cfg.Database.Path,
		"check_interval", cfg.Service.CheckInterval.String(),
		"timeframes", len(cfg.Reboot.Timeframes),
		"probes", len(cfg.Reboot.Probes))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.API.Listen) })
	g.Go(func() error {
		refresh := time.Duration(cfg.Service.ConfigRefreshMinutes) * time.Minute
		return holder.Watch(gctx, refresh)
	})

	err = g.Wait()
	orch.Shutdown()
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	logger.Info("agent stopped")
	return nil
}
