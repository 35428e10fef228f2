// ABOUTME: Transcoder turning RGBA buffers into styled glyph text
// ABOUTME: Reuses one output slice so the per-pixel path never allocates
package transcode

import (
	"fmt"

	"github.com/asciistream/asciistream-go/pkg/frame"
	"github.com/asciistream/asciistream-go/pkg/palette"
)

// Frame is one transcoded frame
type Frame struct {
	Seq    uint64
	Width  int
	Height int
	Markup Markup
	Text   string
}

// Config holds transcoder configuration
type Config struct {
	Palette *palette.Palette
	Markup  Markup
}

// Transcoder converts buffers to text. Not safe for concurrent use.
type Transcoder struct {
	palette *palette.Palette
	markup  Markup
	out     []byte
	seq     uint64
}

// New creates a transcoder, defaulting to the ascii95 palette and ANSI markup
func New(config Config) *Transcoder {
	if config.Palette == nil {
		config.Palette = palette.Default()
	}
	if config.Markup == "" {
		config.Markup = MarkupANSI
	}
	return &Transcoder{
		palette: config.Palette,
		markup:  config.Markup,
	}
}

// Markup returns the configured markup
func (t *Transcoder) Markup() Markup {
	return t.markup
}

// Palette returns the configured palette
func (t *Transcoder) Palette() *palette.Palette {
	return t.palette
}

// Transcode renders buf into a new Frame
func (t *Transcoder) Transcode(buf frame.Buffer) (Frame, error) {
	if err := buf.Validate(); err != nil {
		return Frame{}, fmt.Errorf("transcode: %w", err)
	}

	n := buf.Len()
	need := buf.Height + n*t.markup.cellSize() + len(ansiReset)
	if cap(t.out) < need {
		t.out = make([]byte, 0, need)
	}
	out := t.out[:0]

	html := t.markup == MarkupHTML
	for i := 0; i < n; i++ {
		if i%buf.Width == 0 {
			out = append(out, rowBreak)
		}
		px := frame.SampleAt(buf.Pix, i)
		idx := t.palette.Index(px.Luminance())
		if html {
			out = appendHTMLCell(out, px.R, px.G, px.B, t.palette.HTMLGlyph(idx))
		} else {
			out = appendANSICell(out, px.R, px.G, px.B, t.palette.Glyph(idx))
		}
	}
	if !html {
		out = append(out, ansiReset...)
	}
	t.out = out

	t.seq++
	return Frame{
		Seq:    t.seq,
		Width:  buf.Width,
		Height: buf.Height,
		Markup: t.markup,
		Text:   string(out),
	}, nil
}
