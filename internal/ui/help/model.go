package help

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/rebootreminder/internal/keys"
	"github.com/nhle/rebootreminder/internal/theme"
)

// Model renders the keybinding overlay of the watch view.
type Model struct {
	keys  *keys.KeyMap
	help  help.Model
	width int
}

// New creates a help overlay.
func New(keys *keys.KeyMap, width int) Model {
	h := help.New()
	h.Width = width
	return Model{keys: keys, help: h, width: width}
}

// Short renders the one-line hint for the status bar.
func (m Model) Short() string {
	m.help.ShowAll = false
	return m.help.View(m.keys)
}

// View renders every binding grouped by category.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Keyboard Shortcuts")

	m.help.ShowAll = true
	content := lipgloss.JoinVertical(lipgloss.Left, title, m.help.View(m.keys))

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	return theme.PanelStyle.Width(width).Render(content)
}

// SetWidth updates the overlay width.
func (m *Model) SetWidth(width int) {
	m.width = width
	m.help.Width = width - 4
}
