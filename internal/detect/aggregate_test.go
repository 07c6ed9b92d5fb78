package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/rebootreminder/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		results  map[model.ProbeName]bool
		hard     map[model.ProbeName]bool
		required bool
		isHard   bool
		reasons  []model.ProbeName
	}{
		{"no probes", nil, nil, false, false, nil},
		{"all false", map[model.ProbeName]bool{"a": false, "b": false}, nil, false, false, nil},
		{"one soft true", map[model.ProbeName]bool{"a": false, "b": true}, map[model.ProbeName]bool{"a": true}, true, false, []model.ProbeName{"b"}},
		{"hard true", map[model.ProbeName]bool{"z": true, "a": true}, map[model.ProbeName]bool{"z": true}, true, true, []model.ProbeName{"a", "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.results, tt.hard)
			assert.Equal(t, tt.required, got.Required)
			assert.Equal(t, tt.isHard, got.Hard)
			assert.Equal(t, tt.reasons, got.Reasons)
			assert.Equal(t, got, Evaluate(tt.results, tt.hard), "evaluation must be repeatable")
		})
	}
}

func TestObserve_FirstDetectedIsStable(t *testing.T) {
	req := model.RebootRequirement{Host: "h"}
	pending := Evaluation{Required: true, Reasons: []model.ProbeName{"a"}}

	req = Observe(req, pending, t0)
	require.NotNil(t, req.FirstDetectedAt)
	assert.Equal(t, t0, *req.FirstDetectedAt)

	for i := 1; i <= 5; i++ {
		now := t0.Add(time.Duration(i) * time.Hour)
		req = Observe(req, pending, now)
		assert.Equal(t, t0, *req.FirstDetectedAt)
		assert.Equal(t, now, req.LastCheckedAt)
	}

	req = Observe(req, Evaluation{}, t0.Add(6*time.Hour))
	assert.False(t, req.Required)
	assert.Nil(t, req.FirstDetectedAt)
	assert.Empty(t, req.ContributingMethods)

	later := t0.Add(7 * time.Hour)
	req = Observe(req, Evaluation{Required: true, Hard: true, Reasons: []model.ProbeName{"b"}}, later)
	require.NotNil(t, req.FirstDetectedAt)
	assert.Equal(t, later, *req.FirstDetectedAt)
	assert.True(t, req.Hard)
	assert.Equal(t, model.SeverityRequired, req.Severity())
}

func TestCollect_FailuresCountAsFalse(t *testing.T) {
	boom := errors.New("registry unreadable")
	probes := []Registered{
		{Probe: NewFuncProbe("ok-true", func(context.Context) (bool, error) { return true, nil })},
		{Probe: NewFuncProbe("broken", func(context.Context) (bool, error) { return true, boom }), Hard: true},
		{Probe: NewFuncProbe("slow", func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		}), Timeout: 20 * time.Millisecond},
	}

	round := Collect(context.Background(), probes, nil)

	assert.Equal(t, map[model.ProbeName]bool{"ok-true": true, "broken": false, "slow": false}, round.Results)
	require.Len(t, round.Unavailable, 2)
	for _, err := range round.Unavailable {
		assert.True(t, IsProbeUnavailable(err))
	}
	assert.ErrorIs(t, round.Unavailable[0], boom)
	assert.ErrorIs(t, round.Unavailable[1], context.DeadlineExceeded)

	eval := round.Evaluate()
	assert.True(t, eval.Required)
	assert.False(t, eval.Hard, "a failed hard probe must not make the requirement hard")
	assert.Equal(t, []model.ProbeName{"ok-true"}, eval.Reasons)
}

func TestFileProbe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reboot-required")
	p := NewFileProbe("marker", path)

	pending, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	pending, err = p.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestCommandProbe(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	ctx := context.Background()

	pending, err := NewCommandProbe("exit1", "sh", []string{"-c", "exit 1"}, 1).Check(ctx)
	require.NoError(t, err)
	assert.True(t, pending)

	pending, err = NewCommandProbe("exit0", "sh", []string{"-c", "exit 0"}, 1).Check(ctx)
	require.NoError(t, err)
	assert.False(t, pending)

	_, err = NewCommandProbe("exit2", "sh", []string{"-c", "exit 2"}, 1).Check(ctx)
	assert.Error(t, err)

	_, err = NewCommandProbe("missing", "definitely-not-a-command-xyz", nil, 1).Check(ctx)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	off := false
	regs, err := FromConfig([]model.ProbeConfig{
		{Name: "f", Type: model.ProbeTypeFile, Path: "/x", Hard: true, Timeout: model.Timespan(time.Second)},
		{Name: "c", Type: model.ProbeTypeCommand, Command: "true"},
		{Name: "off", Type: model.ProbeTypeFile, Path: "/y", Enabled: &off},
	})
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, model.ProbeName("f"), regs[0].Probe.Name())
	assert.True(t, regs[0].Hard)
	assert.Equal(t, time.Second, regs[0].Timeout)
	assert.IsType(t, &CommandProbe{}, regs[1].Probe)

	_, err = FromConfig([]model.ProbeConfig{{Name: "r", Type: "registry"}})
	assert.Error(t, err)
}
