package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/rebootreminder/internal/bridge"
	"github.com/nhle/rebootreminder/internal/credential"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/ui/watch"
)

const requestTimeout = 15 * time.Second

// clientConfig loads the config for its api section. A broken file does
// not stop client commands; defaults are used instead.
func clientConfig() *model.AppConfig {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v; using defaults\n", err)
		return model.DefaultConfig()
	}
	return cfg
}

func newClient(cfg *model.AppConfig) (*bridge.Client, error) {
	addr := apiAddr
	if addr == "" {
		addr = cfg.API.Listen
	}
	token := apiToken
	if token == "" {
		var err error
		token, err = credential.ResolveToken(cfg.API.Token)
		if err != nil {
			return nil, err
		}
	}
	return bridge.NewClient(addr, token), nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := clientConfig()
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := printJSON(st); err != nil {
			return err
		}
	} else {
		fmt.Println(renderStatus(st, cfg.Notification.Messages))
	}
	if exitStatus && st.Required {
		return errRebootPending
	}
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg := clientConfig()
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	hist, err := client.History(ctx, historyLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(hist)
	}
	fmt.Println(renderHistory(hist, cfg.Notification.Messages))
	return nil
}

func runDefer(cmd *cobra.Command, args []string) error {
	cfg := clientConfig()
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	var duration string
	if len(args) == 1 {
		duration = args[0]
	} else {
		st, err := client.Status(ctx)
		if err != nil {
			return err
		}
		if len(st.DeferralOptions) == 0 {
			return errors.New("no deferral options are offered right now")
		}
		opts := make([]huh.Option[string], 0, len(st.DeferralOptions))
		for _, o := range st.DeferralOptions {
			opts = append(opts, huh.NewOption(o, o))
		}
		err = huh.NewSelect[string]().
			Title("Postpone reminders for").
			Options(opts...).
			Value(&duration).
			Run()
		if err != nil {
			return err
		}
	}

	resp, err := client.Act(ctx, bridge.ActionRequest{Action: bridge.ActionDefer, Duration: duration, User: userName})
	if err != nil {
		return err
	}
	fmt.Println(cfg.Notification.Messages.Render(model.MsgRebootPostponed, duration))
	if resp.Deferral != nil && resp.Deferral.ActiveUntil != nil {
		fmt.Printf("Next reminder not before %s.\n", resp.Deferral.ActiveUntil.Local().Format("Mon 15:04"))
	}
	return nil
}

// simpleAction returns a RunE that posts action, with an optional event id
// argument.
func simpleAction(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newClient(clientConfig())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		req := bridge.ActionRequest{Action: action, User: userName}
		if len(args) == 1 {
			req.EventID = args[0]
		}
		resp, err := client.Act(ctx, req)
		if err != nil {
			return err
		}
		if o := resp.Orchestration; o != nil {
			line := "restart " + o.State
			if o.CountdownEndsAt != nil {
				line += " (at " + o.CountdownEndsAt.Local().Format("15:04:05") + ")"
			}
			fmt.Println(line)
			return nil
		}
		fmt.Println(action, "recorded")
		return nil
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg := clientConfig()
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	stream, errc, err := client.Subscribe(ctx, userName)
	if err != nil {
		return err
	}

	p := tea.NewProgram(watch.New(client, stream, userName, cfg.Notification), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	cancel()
	if err, ok := <-errc; ok && err != nil {
		return fmt.Errorf("notification stream: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
