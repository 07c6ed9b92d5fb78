package model

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigHolder publishes an immutable configuration snapshot. Readers call
// Current once per unit of work and use that snapshot to completion; a
// reload swaps the pointer and never mutates a published value.
type ConfigHolder struct {
	path    string
	current atomic.Pointer[AppConfig]
	logger  *slog.Logger

	// onReload is called after every successful swap.
	onReload func(*AppConfig)
}

// NewConfigHolder wraps an already loaded configuration.
func NewConfigHolder(path string, cfg *AppConfig, logger *slog.Logger) *ConfigHolder {
	if logger == nil {
		logger = slog.Default()
	}
	h := &ConfigHolder{path: path, logger: logger}
	h.current.Store(cfg)
	return h
}

// Current returns the active snapshot.
func (h *ConfigHolder) Current() *AppConfig {
	return h.current.Load()
}

// Path returns the file the holder reloads from.
func (h *ConfigHolder) Path() string { return h.path }

// OnReload registers fn to run after each successful reload.
func (h *ConfigHolder) OnReload(fn func(*AppConfig)) {
	h.onReload = fn
}

// Reload re-reads the file. An invalid file leaves the previous snapshot
// in place and returns the error.
func (h *ConfigHolder) Reload() error {
	cfg, err := LoadConfig(h.path)
	if err != nil {
		h.logger.Warn("config reload rejected, keeping previous", "path", h.path, "error", err)
		return err
	}
	h.current.Store(cfg)
	h.logger.Info("config reloaded", "path", h.path)
	if h.onReload != nil {
		h.onReload(cfg)
	}
	return nil
}

// Watch reloads on file changes and, when refresh is positive, on a fixed
// period as well. It blocks until ctx is done.
func (h *ConfigHolder) Watch(ctx context.Context, refresh time.Duration) error {
	if _, err := os.Stat(h.path); err == nil {
		v := newViper(h.path)
		if err := v.ReadInConfig(); err == nil {
			v.OnConfigChange(func(e fsnotify.Event) {
				if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					return
				}
				h.logger.Debug("config file changed", "path", e.Name, "op", e.Op.String())
				_ = h.Reload()
			})
			v.WatchConfig()
		} else {
			h.logger.Warn("config watch disabled", "path", h.path, "error", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		h.logger.Warn("config watch disabled", "path", h.path, "error", err)
	}

	if refresh <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = h.Reload()
		}
	}
}
