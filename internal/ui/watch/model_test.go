package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/rebootreminder/internal/bridge"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/reminder"
)

type fakeAPI struct {
	status reminder.Status
	reqs   []bridge.ActionRequest
	err    error
}

func (f *fakeAPI) Status(context.Context) (reminder.Status, error) { return f.status, nil }

func (f *fakeAPI) Act(_ context.Context, req bridge.ActionRequest) (bridge.ActionResponse, error) {
	f.reqs = append(f.reqs, req)
	return bridge.ActionResponse{Action: req.Action}, f.err
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting command, feeding its message
// back into the model.
func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	next, cmd := m.Update(runes(k))
	m = next.(Model)
	if cmd != nil {
		next, _ = m.Update(cmd())
		m = next.(Model)
	}
	return m
}

func pendingStatus() reminder.Status {
	return reminder.Status{
		Host:             "ws-01",
		Required:         true,
		Severity:         model.SeverityRequired,
		Pending:          "26h",
		BucketIndex:      0,
		ReminderInterval: "4h",
		DeferralOptions:  []string{"1h", "4h", "8h", "24h"},
		LastReminder:     &model.NotificationEvent{ID: "r1", Kind: model.EventReminder},
	}
}

func newTestModel(api *fakeAPI, stream chan reminder.Notification) Model {
	return New(api, stream, "alice", model.DefaultConfig().Notification)
}

func TestWatch_DeferByOptionNumber(t *testing.T) {
	api := &fakeAPI{status: pendingStatus()}
	m := newTestModel(api, nil)
	next, _ := m.Update(statusMsg{status: api.status})
	m = next.(Model)

	m = press(t, m, "2")
	require.Len(t, api.reqs, 1)
	assert.Equal(t, bridge.ActionRequest{Action: bridge.ActionDefer, EventID: "r1", Duration: "4h", User: "alice"}, api.reqs[0])

	m = press(t, m, "7")
	assert.Len(t, api.reqs, 1, "out-of-range option is not sent")
	require.Error(t, m.err)
	assert.Contains(t, m.err.Error(), "1h, 4h, 8h, 24h")
}

func TestWatch_ActionKeys(t *testing.T) {
	api := &fakeAPI{status: pendingStatus()}
	m := newTestModel(api, nil)
	next, _ := m.Update(statusMsg{status: api.status})
	m = next.(Model)

	for _, k := range []string{"a", "x", "R", "y", "n", "c"} {
		m = press(t, m, k)
	}
	var got []string
	for _, r := range api.reqs {
		got = append(got, r.Action)
		assert.Equal(t, "alice", r.User)
	}
	assert.Equal(t, []string{
		bridge.ActionAcknowledge, bridge.ActionDismiss, bridge.ActionRestartNow,
		bridge.ActionConfirm, bridge.ActionDecline, bridge.ActionCancel,
	}, got)
	assert.Equal(t, "r1", api.reqs[0].EventID)
}

func TestWatch_ActionErrorIsShown(t *testing.T) {
	api := &fakeAPI{status: pendingStatus(), err: errors.New("restart is disabled")}
	m := newTestModel(api, nil)
	m = press(t, m, "R")
	require.Error(t, m.err)
	assert.Contains(t, m.View(), "restart is disabled")
}

func TestWatch_NotificationStream(t *testing.T) {
	api := &fakeAPI{status: pendingStatus()}
	stream := make(chan reminder.Notification, 2)
	m := newTestModel(api, stream)

	stream <- reminder.Notification{
		Type:            reminder.TypeReminder,
		EventID:         "r2",
		SentAt:          time.Now(),
		Severity:        model.SeverityRequired,
		MessageKey:      model.MsgRebootRequired,
		DeferralOptions: []string{"1h", "2h", "4h"},
	}
	msg := m.waitForNotification()()
	next, cmd := m.Update(msg)
	m = next.(Model)
	assert.NotNil(t, cmd, "keeps listening and refreshes status")
	require.NotNil(t, m.latest)
	assert.Equal(t, "r2", m.eventID())
	require.Len(t, m.feed, 1)
	assert.Contains(t, m.feed[0], "requires a reboot")

	stream <- reminder.Notification{
		Type:       reminder.TypePostponed,
		SentAt:     time.Now(),
		MessageKey: model.MsgRebootPostponed,
		Args:       []string{"2h"},
	}
	next, _ = m.Update(m.waitForNotification()())
	m = next.(Model)
	assert.Contains(t, m.feed[0], "postponed for 2h")

	close(stream)
	next, _ = m.Update(m.waitForNotification()())
	m = next.(Model)
	assert.True(t, m.closed)
	assert.Contains(t, m.View(), "disconnected")
}

func TestWatch_View(t *testing.T) {
	api := &fakeAPI{status: pendingStatus()}
	m := newTestModel(api, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)
	next, _ = m.Update(statusMsg{status: api.status})
	m = next.(Model)

	view := m.View()
	assert.Contains(t, view, "ws-01")
	assert.Contains(t, view, "26h")
	assert.Contains(t, view, "[2] 4h")

	m = press(t, m, "?")
	assert.True(t, m.showHelp)
	assert.Contains(t, m.View(), "Keyboard Shortcuts")
}

func TestWatch_Quit(t *testing.T) {
	m := newTestModel(&fakeAPI{}, nil)
	_, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
