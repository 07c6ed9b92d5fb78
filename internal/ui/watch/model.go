// Package watch is the terminal presentation client: it follows the
// agent's notification stream, shows the current reminder state and sends
// the user's responses back.
package watch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/rebootreminder/internal/bridge"
	"github.com/nhle/rebootreminder/internal/keys"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/reminder"
	"github.com/nhle/rebootreminder/internal/theme"
	"github.com/nhle/rebootreminder/internal/ui"
	helpview "github.com/nhle/rebootreminder/internal/ui/help"
)

const (
	maxFeed       = 8
	actionTimeout = 10 * time.Second
)

// API is the part of the control API the view uses. *bridge.Client
// implements it.
type API interface {
	Status(ctx context.Context) (reminder.Status, error)
	Act(ctx context.Context, req bridge.ActionRequest) (bridge.ActionResponse, error)
}

type statusMsg struct {
	status reminder.Status
	err    error
}

type notificationMsg struct {
	n reminder.Notification
}

type streamClosedMsg struct{}

type actionDoneMsg struct {
	action string
	resp   bridge.ActionResponse
	err    error
}

// Model is the watch view.
type Model struct {
	api      API
	stream   <-chan reminder.Notification
	user     string
	messages model.MessagesConfig
	branding model.BrandingConfig

	keys   *keys.KeyMap
	help   helpview.Model
	layout ui.Layout

	status   *reminder.Status
	latest   *reminder.Notification
	feed     []string
	err      error
	closed   bool
	showHelp bool
}

// New creates the view. stream may be nil when the agent could not be
// subscribed to; the view then only polls status on demand.
func New(api API, stream <-chan reminder.Notification, user string, cfg model.NotificationConfig) Model {
	km := keys.DefaultKeyMap()
	return Model{
		api:      api,
		stream:   stream,
		user:     user,
		messages: cfg.Messages,
		branding: cfg.Branding,
		keys:     km,
		help:     helpview.New(km, 80),
		layout:   ui.NewLayout(80, 24),
		closed:   stream == nil,
	}
}

// Init fetches the status and starts listening.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), m.waitForNotification())
}

// Update handles messages for the watch view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.help.SetWidth(msg.Width)
		return m, nil

	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		st := msg.status
		m.status = &st
		m.err = nil
		return m, nil

	case notificationMsg:
		n := msg.n
		if n.Type == reminder.TypeStatus && n.Status != nil {
			m.status = n.Status
		}
		if n.Type == reminder.TypeReminder {
			m.latest = &n
		}
		if line := m.describe(n); line != "" {
			m.pushFeed(n.SentAt, line)
		}
		if n.Type == reminder.TypeStatus {
			return m, m.waitForNotification()
		}
		return m, tea.Batch(m.waitForNotification(), m.fetchStatus())

	case streamClosedMsg:
		m.closed = true
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("%s: %w", msg.action, msg.err)
			return m, nil
		}
		m.err = nil
		m.pushFeed(time.Now(), actionSummary(msg))
		return m, m.fetchStatus()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetchStatus()
	case key.Matches(msg, m.keys.Acknowledge):
		return m, m.act(bridge.ActionRequest{Action: bridge.ActionAcknowledge, EventID: m.eventID()})
	case key.Matches(msg, m.keys.Dismiss):
		return m, m.act(bridge.ActionRequest{Action: bridge.ActionDismiss, EventID: m.eventID()})
	case key.Matches(msg, m.keys.Defer):
		opts := m.deferralOptions()
		idx, _ := strconv.Atoi(msg.String())
		if idx < 1 || idx > len(opts) {
			m.err = fmt.Errorf("no deferral option %s (offered: %s)", msg.String(), strings.Join(opts, ", "))
			return m, nil
		}
		return m, m.act(bridge.ActionRequest{Action: bridge.ActionDefer, EventID: m.eventID(), Duration: opts[idx-1]})
	case key.Matches(msg, m.keys.RestartNow):
		return m, m.act(bridge.ActionRequest{Action: bridge.ActionRestartNow, EventID: m.eventID()})
	case key.Matches(msg, m.keys.Confirm):
		return m, m.act(bridge.ActionRequest{Action: bridge.ActionConfirm})
	case key.Matches(msg, m.keys.Decline):
		return m, m.act(bridge.ActionRequest{Action: bridge.ActionDecline})
	case key.Matches(msg, m.keys.Cancel):
		return m, m.act(bridge.ActionRequest{Action: bridge.ActionCancel})
	}
	return m, nil
}

// View renders the watch view.
func (m Model) View() string {
	title := "Reboot Reminder"
	if m.branding.Title != "" {
		title = m.branding.Title
	}
	conn := "live"
	if m.closed {
		conn = "disconnected"
	}
	if m.status != nil {
		conn = m.status.Host + " · " + conn
	}
	header := m.layout.RenderHeader(title, conn)

	var body string
	if m.showHelp {
		body = m.help.View()
	} else {
		body = m.renderBody()
	}
	return m.layout.RenderWithFrame(header, body, m.layout.RenderStatusBar(m.help.Short()))
}

func (m Model) renderBody() string {
	var rows []string
	row := func(label, value string) {
		rows = append(rows, theme.LabelStyle.Render(label)+value)
	}

	if m.status == nil {
		rows = append(rows, theme.HelpStyle.Render("waiting for agent status..."))
	} else {
		st := m.status
		if st.Required {
			row("State", theme.SeverityStyle(string(st.Severity)).Render(m.messages.Render(reminderKey(st.Severity))))
			row("Pending for", st.Pending)
			row("Bucket", theme.BucketStyle(st.BucketIndex).Render(bucketLabel(st.BucketIndex)))
			if st.ReminderInterval != "" {
				row("Reminder every", st.ReminderInterval)
			}
			if opts := st.DeferralOptions; len(opts) > 0 {
				row("Defer options", numbered(opts))
			}
		} else {
			row("State", theme.SeverityStyle("").Render(m.messages.Render(model.MsgActionNotRequired)))
		}
		if len(st.Reasons) > 0 {
			row("Detected by", joinNames(st.Reasons))
		}
		if len(st.UnavailableProbes) > 0 {
			row("Unavailable", joinNames(st.UnavailableProbes))
		}
		if st.DeferredUntil != nil {
			row("Deferred until", st.DeferredUntil.Local().Format("Mon 15:04"))
		}
		if st.PostponeCount > 0 {
			row("Postponed", fmt.Sprintf("%d time(s)", st.PostponeCount))
		}
		if st.InQuietHours {
			row("Quiet hours", "active")
		}
		if o := st.Orchestration; o != nil {
			row("Restart", theme.OrchestrationStyle(o.State).Render(o.State))
			if o.CountdownEndsAt != nil {
				row("Restart at", o.CountdownEndsAt.Local().Format("15:04:05"))
			}
		}
	}

	if m.err != nil {
		rows = append(rows, "", theme.ErrorStyle.Render(m.err.Error()))
	}
	if len(m.feed) > 0 {
		rows = append(rows, "", theme.HelpStyle.Render("Recent"))
		rows = append(rows, m.feed...)
	}

	return theme.PanelStyle.Width(m.layout.ContentWidth()).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) describe(n reminder.Notification) string {
	switch {
	case n.MessageKey != "":
		return m.messages.Render(n.MessageKey, n.Args...)
	case n.Orchestration != nil && n.Orchestration.State == "confirm-pending":
		msg := n.Orchestration.ConfirmationMessage
		if msg == "" {
			msg = "restart requested"
		}
		return msg + " (y/n)"
	case n.Orchestration != nil:
		return "restart " + n.Orchestration.State
	}
	return ""
}

func (m *Model) pushFeed(at time.Time, line string) {
	entry := theme.HelpStyle.Render(at.Local().Format("15:04")) + " " + line
	m.feed = append([]string{entry}, m.feed...)
	if len(m.feed) > maxFeed {
		m.feed = m.feed[:maxFeed]
	}
}

func (m Model) eventID() string {
	if m.latest != nil {
		return m.latest.EventID
	}
	if m.status != nil && m.status.LastReminder != nil {
		return m.status.LastReminder.ID
	}
	return ""
}

func (m Model) deferralOptions() []string {
	if m.status != nil && len(m.status.DeferralOptions) > 0 {
		return m.status.DeferralOptions
	}
	if m.latest != nil {
		return m.latest.DeferralOptions
	}
	return nil
}

func (m Model) fetchStatus() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		st, err := api.Status(ctx)
		return statusMsg{status: st, err: err}
	}
}

func (m Model) act(req bridge.ActionRequest) tea.Cmd {
	api := m.api
	req.User = m.user
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		resp, err := api.Act(ctx, req)
		return actionDoneMsg{action: req.Action, resp: resp, err: err}
	}
}

// waitForNotification returns a tea.Cmd that blocks on the stream and
// hands the next notification to Update, which then waits again.
func (m Model) waitForNotification() tea.Cmd {
	if m.stream == nil {
		return nil
	}
	stream := m.stream
	return func() tea.Msg {
		n, ok := <-stream
		if !ok {
			return streamClosedMsg{}
		}
		return notificationMsg{n: n}
	}
}

func actionSummary(msg actionDoneMsg) string {
	switch {
	case msg.resp.Deferral != nil && msg.resp.Deferral.ActiveUntil != nil:
		return "deferred until " + msg.resp.Deferral.ActiveUntil.Local().Format("Mon 15:04")
	case msg.resp.Orchestration != nil:
		return strings.ReplaceAll(msg.action, "_", " ") + ": restart " + msg.resp.Orchestration.State
	default:
		return strings.ReplaceAll(msg.action, "_", " ") + " sent"
	}
}

func reminderKey(s model.Severity) model.MessageKey {
	if s == model.SeverityRequired {
		return model.MsgRebootRequired
	}
	return model.MsgRebootRecommended
}

func bucketLabel(idx int) string {
	if idx < 0 {
		return "none yet"
	}
	return fmt.Sprintf("#%d", idx+1)
}

func numbered(opts []string) string {
	parts := make([]string, len(opts))
	for i, o := range opts {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, o)
	}
	return strings.Join(parts, "  ")
}

func joinNames(names []model.ProbeName) string {
	s := make([]string, len(names))
	for i, n := range names {
		s[i] = string(n)
	}
	return strings.Join(s, ", ")
}
