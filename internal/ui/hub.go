// ABOUTME: Hub TUI listing connected clients and active streams
// ABOUTME: Real-time hub status display using bubbletea and lipgloss
package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// HubStatus holds hub state for display
type HubStatus struct {
	Name    string
	Port    int
	Clients []HubClient
	Streams []HubStream
}

// HubClient is one connected client
type HubClient struct {
	ID      string
	Name    string
	Role    string
	Dropped uint64
}

// HubStream is one active stream
type HubStream struct {
	ID       string
	Producer string
	Frames   uint64
	Started  time.Time
}

type hubModel struct {
	status    HubStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type hubStatusMsg HubStatus

func (m hubModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m hubModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case hubStatusMsg:
		m.status = HubStatus(msg)
	}

	return m, nil
}

func (m hubModel) View() string {
	if m.quitting {
		return "Shutting down hub...\n"
	}

	clientHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.MarginBottom(1).Render("asciistream hub"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Hub: "))
	b.WriteString(valueStyle.Render(m.status.Name))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Port: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.status.Port)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Streams (%d)", len(m.status.Streams))))
	b.WriteString("\n")
	if len(m.status.Streams) == 0 {
		b.WriteString(valueStyle.Render("  No active streams"))
		b.WriteString("\n")
	}
	for _, s := range m.status.Streams {
		b.WriteString(fmt.Sprintf("  • %s", truncate(s.ID, 8)))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %d frames)", s.Producer, s.Frames)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Connected Clients (%d)", len(m.status.Clients))))
	b.WriteString("\n")
	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	}
	for _, c := range m.status.Clients {
		b.WriteString(fmt.Sprintf("  • %s", c.Name))
		detail := c.Role
		if c.Dropped > 0 {
			detail = fmt.Sprintf("%s, %d dropped", c.Role, c.Dropped)
		}
		b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s)", detail)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// HubTUI manages the hub TUI
type HubTUI struct {
	mu       sync.Mutex
	program  *tea.Program
	stopped  bool
	updates  chan HubStatus
	quitChan chan struct{}
}

// NewHubTUI creates a hub TUI
func NewHubTUI() *HubTUI {
	return &HubTUI{
		updates:  make(chan HubStatus, 10),
		quitChan: make(chan struct{}, 1),
	}
}

// Start runs the TUI until the user quits or Stop is called
func (t *HubTUI) Start(name string, port int) error {
	m := hubModel{
		status:    HubStatus{Name: name, Port: port},
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	program := tea.NewProgram(m, tea.WithAltScreen())
	t.program = program
	t.mu.Unlock()

	go func() {
		for status := range t.updates {
			program.Send(hubStatusMsg(status))
		}
	}()

	_, err := program.Run()
	return err
}

// Update sends a status update without blocking
func (t *HubTUI) Update(status HubStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.updates <- status:
	default:
	}
}

// Stop stops the TUI
func (t *HubTUI) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.program != nil {
		t.program.Quit()
	}
	close(t.updates)
}

// QuitChan signals when the user wants to quit
func (t *HubTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
