// ABOUTME: TUI program wrapper, keyboard controls and frame renderer
// ABOUTME: Hands frames to bubbletea without blocking the capture loop
package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/asciistream/asciistream-go/pkg/transcode"
)

// Command is a user request from the keyboard
type Command int

const (
	CommandStart Command = iota
	CommandStop
	CommandQuit
)

// Controls carries keyboard commands to the application
type Controls struct {
	Commands chan Command
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{Commands: make(chan Command, 4)}
}

// send queues cmd without blocking; a nil Controls ignores it
func (c *Controls) send(cmd Command) {
	if c == nil {
		return
	}
	select {
	case c.Commands <- cmd:
	default:
	}
}

// NewModel creates a new TUI model. Controls may be nil for view-only use.
func NewModel(title string, controls *Controls) Model {
	return Model{title: title, controls: controls}
}

// App runs the TUI program
type App struct {
	program *tea.Program

	mu      sync.Mutex
	latest  *FrameMsg
	pending chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewApp creates the program; call Run to start it
func NewApp(title string, controls *Controls, opts ...tea.ProgramOption) *App {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	a := &App{
		program: tea.NewProgram(NewModel(title, controls), opts...),
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go a.pump()
	return a
}

// Run blocks until the program exits
func (a *App) Run() error {
	defer a.once.Do(func() { close(a.done) })
	_, err := a.program.Run()
	return err
}

// Stop quits the program
func (a *App) Stop() {
	a.program.Quit()
}

// Update sends a status update
func (a *App) Update(status StatusMsg) {
	go a.program.Send(status)
}

// Render keeps f as the latest frame and wakes the pump. It never blocks.
func (a *App) Render(f transcode.Frame) error {
	a.mu.Lock()
	a.latest = &FrameMsg{Seq: f.Seq, Text: f.Text}
	a.mu.Unlock()

	select {
	case a.pending <- struct{}{}:
	default:
	}
	return nil
}

// pump forwards only the newest frame to the program
func (a *App) pump() {
	for {
		select {
		case <-a.pending:
			a.mu.Lock()
			msg := a.latest
			a.latest = nil
			a.mu.Unlock()
			if msg != nil {
				a.program.Send(*msg)
			}
		case <-a.done:
			return
		}
	}
}
