package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/reminder"
	"github.com/nhle/rebootreminder/internal/theme"
)

func renderStatus(st reminder.Status, msgs model.MessagesConfig) string {
	var rows []string
	row := func(label, value string) {
		rows = append(rows, theme.LabelStyle.Render(label)+value)
	}

	row("Host", st.Host)
	if !st.Required {
		row("State", theme.SeverityStyle("").Render(msgs.Render(model.MsgActionNotRequired)))
	} else {
		key := model.MsgRebootRecommended
		action := model.MsgActionRecommended
		if st.Severity == model.SeverityRequired {
			key, action = model.MsgRebootRequired, model.MsgActionRequired
		}
		row("State", theme.SeverityStyle(string(st.Severity)).Render(msgs.Render(key)))
		row("", msgs.Render(action))
		row("Pending for", st.Pending)
		if st.BucketIndex >= 0 {
			row("Timeframe", theme.BucketStyle(st.BucketIndex).Render(fmt.Sprintf("#%d", st.BucketIndex+1))+
				" (reminder every "+st.ReminderInterval+")")
			row("Defer options", strings.Join(st.DeferralOptions, ", "))
		} else {
			row("Timeframe", theme.BucketStyle(-1).Render("not reached yet"))
		}
	}
	if len(st.Reasons) > 0 {
		row("Detected by", probeList(st.Reasons))
	}
	if len(st.UnavailableProbes) > 0 {
		row("Unavailable", theme.ErrorStyle.Render(probeList(st.UnavailableProbes)))
	}
	if st.DeferredUntil != nil {
		row("Deferred until", st.DeferredUntil.Local().Format("Mon 2 Jan 15:04"))
	}
	if st.PostponeCount > 0 {
		row("Postponed", fmt.Sprintf("%d time(s)", st.PostponeCount))
	}
	if st.InQuietHours {
		row("Quiet hours", "active")
	}
	if st.LastReminder != nil {
		row("Last reminder", st.LastReminder.SentAt.Local().Format("Mon 2 Jan 15:04"))
	}
	if st.LastDecision != "" {
		decision := st.LastDecision
		if st.LastReason != "" {
			decision += " (" + st.LastReason + ")"
		}
		row("Last decision", decision)
	}
	if o := st.Orchestration; o != nil {
		row("Restart", theme.OrchestrationStyle(o.State).Render(o.State)+" requested by "+o.RequestedBy)
	} else if !st.RebootAllowed {
		row("Restart", msgs.Render(model.MsgActionNotAvailable))
	}

	return theme.PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderHistory(h reminder.History, msgs model.MessagesConfig) string {
	var b strings.Builder
	b.WriteString(theme.HeaderStyle.Render("Notifications"))
	b.WriteString("\n")
	if len(h.Events) == 0 {
		b.WriteString(theme.HelpStyle.Render("  none") + "\n")
	}
	for _, e := range h.Events {
		when := e.SentAt.Local().Format("2006-01-02 15:04")
		switch e.Kind {
		case model.EventInteraction:
			line := fmt.Sprintf("  %s  %-11s %s by %s", when, e.Kind, e.Interaction, e.UserIdentity)
			if e.DeferralChosen != nil {
				line += " for " + model.FormatTimespan(*e.DeferralChosen)
			}
			b.WriteString(line + "\n")
		default:
			fmt.Fprintf(&b, "  %s  %-11s %s\n", when, e.Kind, msgs.Render(e.MessageKey))
		}
	}

	b.WriteString("\n")
	b.WriteString(theme.HeaderStyle.Render("Restarts"))
	b.WriteString("\n")
	if len(h.Reboots) == 0 {
		b.WriteString(theme.HelpStyle.Render("  none") + "\n")
	}
	for _, r := range h.Reboots {
		line := fmt.Sprintf("  %s  %-9s requested by %s",
			r.RequestedAt.Local().Format("2006-01-02 15:04"), r.Outcome, r.RequestedBy)
		if r.Error != "" {
			line += ": " + r.Error
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func probeList(names []model.ProbeName) string {
	s := make([]string, len(names))
	for i, n := range names {
		s[i] = string(n)
	}
	return strings.Join(s, ", ")
}
