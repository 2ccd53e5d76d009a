package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/toolrelay/agents/turn"
	"github.com/lexcodex/toolrelay/framework"
)

// Init fulfills the Bubble Tea Model interface.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update applies incoming messages to the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case eventMsg:
		m = m.handleEvent(msg.event)
		return m.refreshFeed(), waitForEvent(m.events)
	case runFinishedMsg:
		m = m.flushPending()
		m.running = false
		m.events = nil
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.status.elapsed = time.Since(m.started)
		m = m.persist()
		return m.refreshFeed(), nil
	}
	return m, nil
}

func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	feedHeight := max(1, msg.Height-2)
	m.feed.Width = msg.Width
	m.feed.Height = feedHeight
	m.ready = true
	m.input.Width = max(10, msg.Width-4)
	return m.refreshFeed()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.running && m.cancel != nil {
			m.cancel()
			return m, nil
		}
		return m, tea.Quit
	case "ctrl+d":
		return m, tea.Quit
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		if strings.HasPrefix(value, "/") {
			m.input.SetValue("")
			return m.runCommand(value)
		}
		return m.submit(value)
	case "up", "down", "pgup", "pgdown":
		var cmd tea.Cmd
		m.feed, cmd = m.feed.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleEvent folds one engine event into the feed.
func (m Model) handleEvent(ev turn.Event) Model {
	if ev.State != "" {
		m.status.state = string(ev.State)
	}
	m.status.turn = ev.Turn
	switch ev.Type {
	case turn.EventToken:
		m.pending += ev.Content
		return m
	case turn.EventStatus:
		m.status.detail = ev.Content
		return m
	}
	m = m.flushPending()
	if e, ok := EntryForEvent(ev); ok {
		m.entries = append(m.entries, e)
	}
	return m
}

func (m Model) runCommand(raw string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(strings.TrimPrefix(raw, "/"))
	if len(fields) == 0 {
		return m, nil
	}
	switch fields[0] {
	case "quit", "exit":
		return m, tea.Quit
	case "help":
		m.entries = append(m.entries, Entry{Kind: EntryInfo, Text: "/tools lists capabilities, /clear starts a fresh view, /session shows the session id, /quit exits. ctrl+c stops a running turn."})
	case "tools":
		m.entries = append(m.entries, Entry{Kind: EntryInfo, Text: m.toolSummary()})
	case "clear":
		if m.running {
			m.entries = append(m.entries, Entry{Kind: EntryInfo, Text: "wait for the current turn to finish"})
			break
		}
		m.entries = nil
	case "session":
		m.entries = append(m.entries, Entry{Kind: EntryInfo, Text: "session " + m.opts.SessionID})
	default:
		m.entries = append(m.entries, Entry{Kind: EntryError, Text: fmt.Sprintf("unknown command /%s", fields[0])})
	}
	return m.refreshFeed(), nil
}

func (m Model) toolSummary() string {
	if m.opts.Tools == nil {
		return "no tools registered"
	}
	var b strings.Builder
	for i, tool := range m.opts.Tools.All() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(tool.Name())
		b.WriteString(" - ")
		b.WriteString(tool.Description())
	}
	if b.Len() == 0 {
		return "no tools registered"
	}
	return b.String()
}

// Transcript returns the conversation history backing the view.
func (m Model) Transcript() []framework.Interaction {
	return m.history.All()
}
