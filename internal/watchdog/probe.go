package watchdog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
)

// HTTPHealthProbe treats a 200 response from URL as healthy.
type HTTPHealthProbe struct {
	URL    string
	Client *http.Client
}

func (p HTTPHealthProbe) Check(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("health check %s: status %d: %s", p.URL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// CommandRestarter runs a service manager command, for example
// "systemctl restart rebootreminder".
type CommandRestarter struct {
	Command []string
}

func (r CommandRestarter) Restart(ctx context.Context) error {
	if len(r.Command) == 0 {
		return errors.New("no restart command configured")
	}
	out, err := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s: %w: %s", strings.Join(r.Command, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ProbeFunc adapts a function to HealthProbe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// RestarterFunc adapts a function to Restarter.
type RestarterFunc func(ctx context.Context) error

func (f RestarterFunc) Restart(ctx context.Context) error { return f(ctx) }
