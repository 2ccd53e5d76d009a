package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/toolrelay/agents/turn"
)

// EntryKind classifies a feed entry.
type EntryKind string

const (
	EntryUser      EntryKind = "user"
	EntryAssistant EntryKind = "assistant"
	EntryTool      EntryKind = "tool"
	EntryWarning   EntryKind = "warning"
	EntryError     EntryKind = "error"
	EntryInfo      EntryKind = "info"
)

// Entry is one rendered block of the conversation feed.
type Entry struct {
	Kind EntryKind
	Text string
}

// RenderEntry styles an entry for a terminal of the given width. A width of
// zero disables wrapping.
func RenderEntry(e Entry, width int) string {
	var label string
	switch e.Kind {
	case EntryUser:
		label = userStyle.Render("You")
	case EntryAssistant:
		label = assistantStyle.Render("Assistant")
	case EntryTool:
		label = toolOKStyle.Render("Tool")
	case EntryWarning:
		label = warningStyle.Render("Notice")
	case EntryError:
		label = errorStyle.Render("Error")
	default:
		return dimStyle.Render(e.Text)
	}
	body := bodyStyle
	if width > 4 {
		body = body.Width(width - 2)
	}
	text := strings.TrimRight(e.Text, "\n")
	if e.Kind == EntryError {
		text = errorStyle.UnsetBold().Render(text)
	}
	return lipgloss.JoinVertical(lipgloss.Left, label, body.Render(text))
}

// EntryForEvent maps a non-token engine event onto a feed entry. Token
// fragments are accumulated by the caller and return false here.
func EntryForEvent(ev turn.Event) (Entry, bool) {
	switch ev.Type {
	case turn.EventSystem:
		if _, executed := ev.Metadata["success"]; executed {
			return Entry{Kind: EntryTool, Text: ev.Content}, true
		}
		return Entry{Kind: EntryWarning, Text: ev.Content}, true
	case turn.EventError:
		return Entry{Kind: EntryError, Text: ev.Content}, true
	case turn.EventStatus:
		return Entry{Kind: EntryInfo, Text: ev.Content}, true
	case turn.EventDone:
		if ev.State == turn.StateAborted {
			return Entry{Kind: EntryInfo, Text: "run aborted"}, true
		}
		return Entry{}, false
	default:
		return Entry{}, false
	}
}
