package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-srcbuild/internal/events"
	"github.com/randomizedcoder/go-srcbuild/internal/progress"
	"github.com/randomizedcoder/go-srcbuild/internal/supervisor"
)

// DefaultMaxLines bounds the output tail kept by the model.
const DefaultMaxLines = 500

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// EventMsg carries one supervisor event.
type EventMsg events.Envelope

// DownloadMsg carries a full transfer snapshot, including rate and size,
// which the download events leave out.
type DownloadMsg struct {
	Snapshot progress.Snapshot
	Final    bool
}

// DoneMsg reports the end of the task the dashboard is watching.
type DoneMsg struct {
	Summary supervisor.Summary
	Err     error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Controller is the part of the supervisor the dashboard drives.
type Controller interface {
	Status() supervisor.Status
	RequestAbort() bool
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	command    string
	target     string
	controller Controller
	maxLines   int

	// Current state
	state      string
	download   *progress.Snapshot
	downloaded bool
	lines      []string
	abortSent  bool
	done       *DoneMsg
	startTime  time.Time
	lastUpdate time.Time

	// Display options
	width  int
	height int

	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	// Command is shown in the header, e.g. "build v2.10.0".
	Command    string
	Target     string
	Controller Controller

	// MaxLines bounds the output tail. Default: DefaultMaxLines
	MaxLines int
}

// New creates a new TUI model.
func New(cfg Config) Model {
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	return Model{
		command:    cfg.Command,
		target:     cfg.Target,
		controller: cfg.Controller,
		maxLines:   cfg.MaxLines,
		state:      supervisor.StateIdle.String(),
		startTime:  time.Now(),
		lastUpdate: time.Now(),
		width:      80,
		height:     24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "a":
			if m.controller != nil && m.done == nil && !m.abortSent {
				m.abortSent = m.controller.RequestAbort()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.controller != nil {
			m.state = m.controller.Status().Name
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case EventMsg:
		m.applyEvent(events.Envelope(msg))
		m.lastUpdate = time.Now()
		return m, nil

	case DownloadMsg:
		snap := msg.Snapshot
		m.download = &snap
		if msg.Final {
			m.downloaded = true
		}
		return m, nil

	case DoneMsg:
		m.done = &msg
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) applyEvent(env events.Envelope) {
	switch env.Event {
	case events.TaskState:
		if p, ok := env.Payload.(events.StatePayload); ok {
			m.state = p.State
		}
	case events.Progress:
		if p, ok := env.Payload.(events.MessagePayload); ok {
			m.appendLine(p.Message)
		}
	case events.DownloadProgress, events.DownloadFinished:
		p, ok := env.Payload.(events.DownloadPayload)
		if !ok {
			return
		}
		if m.download == nil {
			m.download = &progress.Snapshot{}
		}
		m.download.Percentage = p.Percentage
		if env.Event == events.DownloadFinished {
			m.downloaded = true
		}
	}
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if over := len(m.lines) - m.maxLines; over > 0 {
		m.lines = append(m.lines[:0], m.lines[over:]...)
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// State returns the last known task state name.
func (m Model) State() string {
	return m.state
}

// Lines returns the retained output tail.
func (m Model) Lines() []string {
	return m.lines
}

// DownloadPercentage returns the last reported percentage, 0 before any.
func (m Model) DownloadPercentage() float64 {
	if m.download == nil {
		return 0
	}
	return m.download.Percentage
}

// Done reports whether the watched task has finished.
func (m Model) Done() bool {
	return m.done != nil
}

// =============================================================================
// Helpers for external use
// =============================================================================

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Emitter forwards supervisor events into a running program.
type Emitter struct {
	p Sender
}

// NewEmitter creates an emitter that sends to p.
func NewEmitter(p Sender) *Emitter {
	return &Emitter{p: p}
}

// Emit sends the event as an EventMsg.
func (e *Emitter) Emit(name string, payload any) error {
	if e.p == nil {
		return nil
	}
	e.p.Send(EventMsg{Event: name, Payload: payload})
	return nil
}

// SendDownload sends a transfer snapshot to the TUI.
func SendDownload(p Sender, snapshot progress.Snapshot, final bool) {
	if p != nil {
		p.Send(DownloadMsg{Snapshot: snapshot, Final: final})
	}
}

// SendDone reports the end of the watched task.
func SendDone(p Sender, summary supervisor.Summary, err error) {
	if p != nil {
		p.Send(DoneMsg{Summary: summary, Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p Sender) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatBytes formats bytes with KB/MB/GB suffixes.
func formatBytes(n uint64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// formatByteRate formats a throughput in bytes per second.
func formatByteRate(rate float64) string {
	if rate <= 0 {
		return "-"
	}
	return formatBytes(uint64(rate)) + "/s"
}
