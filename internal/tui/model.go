package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/lexcodex/toolrelay/agents/turn"
	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/persistence"
)

// Options configure an interactive session.
type Options struct {
	Engine    *turn.Engine
	Tools     *framework.ToolRegistry
	Store     persistence.MessageStore
	SessionID string
	Workspace string
	Model     string
	Logger    *slog.Logger
}

// Run starts the program and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	if opts.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	m, err := NewModel(ctx, opts)
	if err != nil {
		return err
	}
	program := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// Model is the Bubble Tea model for the chat screen: a scrolling feed, a
// prompt bar and a status bar.
type Model struct {
	opts Options
	ctx  context.Context

	feed    viewport.Model
	input   textinput.Model
	spinner spinner.Model
	status  StatusBar

	entries []Entry
	// pending holds assistant text streamed during the current turn.
	pending string

	history   *framework.History
	persisted int

	running bool
	events  <-chan turn.Event
	cancel  context.CancelFunc
	started time.Time

	width  int
	height int
	ready  bool
}

// eventMsg carries one engine event into Update.
type eventMsg struct{ event turn.Event }

// runFinishedMsg is delivered once the event channel closes.
type runFinishedMsg struct{}

// NewModel loads the session transcript (when a store is configured) and
// prepares the widgets.
func NewModel(ctx context.Context, opts Options) (Model, error) {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "tui")

	var prior []framework.Interaction
	if opts.Store != nil {
		loaded, err := opts.Store.History(ctx, opts.SessionID)
		if err != nil {
			return Model{}, fmt.Errorf("load session %s: %w", opts.SessionID, err)
		}
		prior = loaded
	}

	input := textinput.New()
	input.Placeholder = "Ask something, or /help"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = dimStyle

	m := Model{
		opts:      opts,
		ctx:       ctx,
		feed:      viewport.New(0, 0),
		input:     input,
		spinner:   sp,
		history:   framework.NewHistory(prior...),
		persisted: len(prior),
		status: StatusBar{
			workspace: opts.Workspace,
			model:     opts.Model,
			session:   opts.SessionID,
			state:     "idle",
		},
	}
	for _, in := range prior {
		if e, ok := entryForInteraction(in); ok {
			m.entries = append(m.entries, e)
		}
	}
	return m, nil
}

func entryForInteraction(in framework.Interaction) (Entry, bool) {
	switch in.Role {
	case framework.RoleUser:
		return Entry{Kind: EntryUser, Text: in.Content}, true
	case framework.RoleAssistant:
		if strings.TrimSpace(in.Content) == "" {
			return Entry{}, false
		}
		return Entry{Kind: EntryAssistant, Text: in.Content}, true
	case framework.RoleTool:
		return Entry{Kind: EntryTool, Text: in.Name + ": " + in.Content}, true
	case framework.RoleSystem:
		return Entry{Kind: EntryWarning, Text: in.Content}, true
	default:
		return Entry{}, false
	}
}

// submit starts a run for the given input.
func (m Model) submit(input string) (Model, tea.Cmd) {
	input = strings.TrimSpace(input)
	if input == "" || m.running {
		return m, nil
	}
	m.entries = append(m.entries, Entry{Kind: EntryUser, Text: input})
	m.input.SetValue("")

	ctx, cancel := context.WithCancel(framework.WithConversationID(m.ctx, m.opts.SessionID))
	m.cancel = cancel
	m.events = m.opts.Engine.Stream(ctx, m.history, input)
	m.running = true
	m.started = time.Now()
	m.status.state = string(turn.StateGenerating)
	m = m.refreshFeed()
	return m, tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func waitForEvent(ch <-chan turn.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return runFinishedMsg{}
		}
		return eventMsg{event: ev}
	}
}

// flushPending moves streamed assistant text into the feed.
func (m Model) flushPending() Model {
	if strings.TrimSpace(m.pending) != "" {
		m.entries = append(m.entries, Entry{Kind: EntryAssistant, Text: m.pending})
	}
	m.pending = ""
	return m
}

// persist appends everything the finished run added to the session store.
func (m Model) persist() Model {
	added := m.history.All()[m.persisted:]
	m.persisted = m.history.Len()
	if m.opts.Store == nil || len(added) == 0 {
		return m
	}
	if err := m.opts.Store.Append(context.WithoutCancel(m.ctx), m.opts.SessionID, added...); err != nil {
		m.opts.Logger.Error("persist session", "session", m.opts.SessionID, "error", err)
		m.entries = append(m.entries, Entry{Kind: EntryError, Text: "failed to save conversation: " + err.Error()})
	}
	return m
}

func (m Model) refreshFeed() Model {
	if !m.ready {
		return m
	}
	m.feed.SetContent(m.renderEntries())
	m.feed.GotoBottom()
	return m
}
