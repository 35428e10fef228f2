// ABOUTME: Renderer contract and terminal writer renderer
// ABOUTME: Clears once, then redraws each frame from the cursor home position
package render

import (
	"errors"
	"io"
	"sync"

	"github.com/asciistream/asciistream-go/pkg/transcode"
)

const (
	clearScreen = "\x1b[2J"
	cursorHome  = "\x1b[H"
	hideCursor  = "\x1b[?25l"
	showCursor  = "\x1b[?25h"
	resetColor  = "\x1b[0m"
)

// Renderer displays one frame, replacing the previous one
type Renderer interface {
	Render(f transcode.Frame) error
}

// Func adapts a function to Renderer
type Func func(f transcode.Frame) error

// Render calls fn(f)
func (fn Func) Render(f transcode.Frame) error {
	return fn(f)
}

// Discard drops every frame
var Discard Renderer = Func(func(transcode.Frame) error { return nil })

// Writer draws frames on a terminal-like io.Writer
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	cleared bool
	buf     []byte
}

// NewWriter creates a Writer on w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Render writes cursor-home plus the frame text in one write. The first call
// also clears the screen and hides the cursor.
func (w *Writer) Render(f transcode.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = w.buf[:0]
	if !w.cleared {
		w.buf = append(w.buf, hideCursor...)
		w.buf = append(w.buf, clearScreen...)
		w.cleared = true
	}
	w.buf = append(w.buf, cursorHome...)
	w.buf = append(w.buf, f.Text...)

	_, err := w.w.Write(w.buf)
	return err
}

// Close restores the cursor if anything was drawn
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.cleared {
		return nil
	}
	w.cleared = false
	_, err := io.WriteString(w.w, resetColor+showCursor+"\n")
	return err
}

// Multi renders to every renderer in order and joins their errors
func Multi(renderers ...Renderer) Renderer {
	rs := make([]Renderer, 0, len(renderers))
	for _, r := range renderers {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return multi(rs)
}

type multi []Renderer

func (m multi) Render(f transcode.Frame) error {
	var errs []error
	for _, r := range m {
		if err := r.Render(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ANSI converts HTML frames to ANSI escapes before passing them to r.
// ANSI frames pass through unchanged.
func ANSI(r Renderer) Renderer {
	return Func(func(f transcode.Frame) error {
		if f.Markup != transcode.MarkupHTML {
			return r.Render(f)
		}
		text, err := transcode.ToANSI(f.Text)
		if err != nil {
			return err
		}
		f.Text = text
		f.Markup = transcode.MarkupANSI
		return r.Render(f)
	})
}
