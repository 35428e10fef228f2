// ABOUTME: Bubbletea model for the capture and watch TUI
// ABOUTME: Shows the latest frame under a status header with stream stats
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	title    string
	controls *Controls

	// Connection
	connected  bool
	serverName string
	streamID   string
	producer   string
	armed      bool
	lastError  string

	// Frame
	frame    string
	frameSeq uint64
	frames   uint64

	// Stats
	published uint64
	dropped   uint64
	skipped   uint64
	overruns  uint64

	showStats bool
	quitting  bool

	// Dimensions
	width  int
	height int
}

// FrameMsg carries the newest frame text
type FrameMsg struct {
	Seq  uint64
	Text string
}

// StatusMsg updates TUI state; zero fields are left unchanged
type StatusMsg struct {
	Connected  *bool
	Armed      *bool
	ServerName string
	StreamID   string
	Producer   string
	Error      string
	Published  uint64
	Dropped    uint64
	Skipped    uint64
	Overruns   uint64
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case FrameMsg:
		m.frame = msg.Text
		m.frameSeq = msg.Seq
		m.frames++
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	if m.frame == "" {
		b.WriteString(valueStyle.Render("Waiting for frames..."))
		b.WriteString("\n")
	} else {
		// Frame text starts with its own row break
		b.WriteString(m.frame)
		b.WriteString("\n")
	}

	if m.showStats {
		b.WriteString(m.renderStats())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	status := "Disconnected"
	if m.connected {
		status = "Connected"
		if m.serverName != "" {
			status = fmt.Sprintf("Connected to %s", m.serverName)
		}
	}

	capture := "idle"
	if m.armed {
		capture = "streaming"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("  ")
	b.WriteString(headerStyle.Render("Status: "))
	b.WriteString(valueStyle.Render(status))
	if m.controls != nil {
		b.WriteString("  ")
		b.WriteString(headerStyle.Render("Capture: "))
		b.WriteString(valueStyle.Render(capture))
	}
	if m.streamID != "" {
		b.WriteString("  ")
		b.WriteString(headerStyle.Render("Stream: "))
		b.WriteString(valueStyle.Render(truncate(m.streamID, 8)))
	}
	if m.producer != "" {
		b.WriteString("  ")
		b.WriteString(headerStyle.Render("From: "))
		b.WriteString(valueStyle.Render(m.producer))
	}
	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render(m.lastError))
	}
	return b.String()
}

func (m Model) renderStats() string {
	return valueStyle.Render(fmt.Sprintf("Frames: %d  Seq: %d  Published: %d  Dropped: %d  Skipped: %d  Overruns: %d",
		m.frames, m.frameSeq, m.published, m.dropped, m.skipped, m.overruns)) + "\n"
}

func (m Model) renderHelp() string {
	if m.controls == nil {
		return helpStyle.Render("d:Stats  q:Quit")
	}
	return helpStyle.Render("s:Start  x:Stop  d:Stats  q:Quit")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.controls.send(CommandQuit)
		return m, tea.Quit
	case "s":
		m.controls.send(CommandStart)
	case "x":
		m.controls.send(CommandStop)
	case "d":
		m.showStats = !m.showStats
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
		if !m.connected {
			m.streamID = ""
		}
	}
	if msg.Armed != nil {
		m.armed = *msg.Armed
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.StreamID != "" {
		m.streamID = msg.StreamID
	}
	if msg.Producer != "" {
		m.producer = msg.Producer
	}
	if msg.Error != "" {
		m.lastError = msg.Error
	}
	if msg.Published != 0 || msg.Dropped != 0 || msg.Skipped != 0 || msg.Overruns != 0 {
		m.published = msg.Published
		m.dropped = msg.Dropped
		m.skipped = msg.Skipped
		m.overruns = msg.Overruns
	}
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length]
}
