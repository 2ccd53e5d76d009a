package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View composes the feed, prompt bar and status bar.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.feed.View(), m.renderPromptBar(), m.status.View(m.width))
}

func (m Model) renderEntries() string {
	if len(m.entries) == 0 && m.pending == "" {
		return welcomeStyle.Render("Ask a question. Tools run inside " + m.opts.Workspace + ".")
	}
	rendered := make([]string, 0, len(m.entries)+1)
	for _, e := range m.entries {
		rendered = append(rendered, RenderEntry(e, m.width))
	}
	if m.pending != "" {
		rendered = append(rendered, RenderEntry(Entry{Kind: EntryAssistant, Text: m.pending}, m.width))
	}
	return strings.Join(rendered, "\n\n")
}

func (m Model) renderPromptBar() string {
	prefix := "> "
	if m.running {
		prefix = m.spinner.View() + " "
	}
	return promptBarStyle.Width(m.width).Render(prefix + m.input.View())
}
