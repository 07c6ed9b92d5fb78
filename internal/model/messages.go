package model

import "strings"

// MessageKey names a user-facing message template.
type MessageKey string

const (
	MsgRebootRequired     MessageKey = "rebootRequired"
	MsgRebootRecommended  MessageKey = "rebootRecommended"
	MsgRebootScheduled    MessageKey = "rebootScheduled"
	MsgRebootInProgress   MessageKey = "rebootInProgress"
	MsgRebootCancelled    MessageKey = "rebootCancelled"
	MsgRebootPostponed    MessageKey = "rebootPostponed"
	MsgRebootCompleted    MessageKey = "rebootCompleted"
	MsgActionRequired     MessageKey = "actionRequired"
	MsgActionRecommended  MessageKey = "actionRecommended"
	MsgActionNotRequired  MessageKey = "actionNotRequired"
	MsgActionNotAvailable MessageKey = "actionNotAvailable"
)

// MessagesConfig holds the message templates. A template may contain
// "%s" placeholders that are filled positionally.
type MessagesConfig struct {
	RebootRequired     string `mapstructure:"rebootRequired" yaml:"rebootRequired" json:"rebootRequired"`
	RebootRecommended  string `mapstructure:"rebootRecommended" yaml:"rebootRecommended" json:"rebootRecommended"`
	RebootScheduled    string `mapstructure:"rebootScheduled" yaml:"rebootScheduled" json:"rebootScheduled"`
	RebootInProgress   string `mapstructure:"rebootInProgress" yaml:"rebootInProgress" json:"rebootInProgress"`
	RebootCancelled    string `mapstructure:"rebootCancelled" yaml:"rebootCancelled" json:"rebootCancelled"`
	RebootPostponed    string `mapstructure:"rebootPostponed" yaml:"rebootPostponed" json:"rebootPostponed"`
	RebootCompleted    string `mapstructure:"rebootCompleted" yaml:"rebootCompleted" json:"rebootCompleted"`
	ActionRequired     string `mapstructure:"actionRequired" yaml:"actionRequired" json:"actionRequired"`
	ActionRecommended  string `mapstructure:"actionRecommended" yaml:"actionRecommended" json:"actionRecommended"`
	ActionNotRequired  string `mapstructure:"actionNotRequired" yaml:"actionNotRequired" json:"actionNotRequired"`
	ActionNotAvailable string `mapstructure:"actionNotAvailable" yaml:"actionNotAvailable" json:"actionNotAvailable"`
}

// Template returns the template for key, or "" for an unknown key.
func (m MessagesConfig) Template(key MessageKey) string {
	switch key {
	case MsgRebootRequired:
		return m.RebootRequired
	case MsgRebootRecommended:
		return m.RebootRecommended
	case MsgRebootScheduled:
		return m.RebootScheduled
	case MsgRebootInProgress:
		return m.RebootInProgress
	case MsgRebootCancelled:
		return m.RebootCancelled
	case MsgRebootPostponed:
		return m.RebootPostponed
	case MsgRebootCompleted:
		return m.RebootCompleted
	case MsgActionRequired:
		return m.ActionRequired
	case MsgActionRecommended:
		return m.ActionRecommended
	case MsgActionNotRequired:
		return m.ActionNotRequired
	case MsgActionNotAvailable:
		return m.ActionNotAvailable
	}
	return ""
}

// Render fills the template for key with args. Each "%s" consumes the
// next argument; placeholders without an argument are left empty and
// surplus arguments are ignored.
func (m MessagesConfig) Render(key MessageKey, args ...string) string {
	return RenderTemplate(m.Template(key), args...)
}

// RenderTemplate substitutes "%s" placeholders in tmpl positionally.
func RenderTemplate(tmpl string, args ...string) string {
	parts := strings.Split(tmpl, "%s")
	if len(parts) == 1 {
		return tmpl
	}
	var b strings.Builder
	for i, p := range parts {
		b.WriteString(p)
		if i == len(parts)-1 {
			break
		}
		if i < len(args) {
			b.WriteString(args[i])
		}
	}
	return b.String()
}

func defaultMessages() MessagesConfig {
	return MessagesConfig{
		RebootRequired:     "Your computer requires a reboot to complete recent updates.",
		RebootRecommended:  "It is recommended to reboot your computer to apply recent updates.",
		RebootScheduled:    "Your computer is scheduled to reboot at %s.",
		RebootInProgress:   "Your computer will reboot in %s.",
		RebootCancelled:    "The scheduled reboot has been cancelled.",
		RebootPostponed:    "The reboot has been postponed for %s.",
		RebootCompleted:    "Your computer has been successfully rebooted.",
		ActionRequired:     "Reboot is required. Click to schedule.",
		ActionRecommended:  "Reboot is recommended. Click for options.",
		ActionNotRequired:  "No reboot is required at this time.",
		ActionNotAvailable: "Reboot options are not available at this time.",
	}
}
