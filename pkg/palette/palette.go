// ABOUTME: Palette type and luminance lookup
// ABOUTME: Precomputes glyph strings so lookups never allocate
package palette

import (
	"errors"
	"fmt"
	"html"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// NameASCII95 is the printable ASCII range 0x20-0x7E in code-point order
	NameASCII95 = "ascii95"
	// NameRamp is a short perceptual brightness ramp
	NameRamp = "ramp"
	// NameBlocks uses Unicode shade blocks
	NameBlocks = "blocks"
)

// ErrEmpty is returned when a palette would have no glyphs
var ErrEmpty = errors.New("palette: no glyphs")

var named = map[string]string{
	NameASCII95: ascii95(),
	NameRamp:    " .:-=+*#%@",
	NameBlocks:  " ░▒▓█",
}

// Palette is an ordered glyph lookup table, darkest first
type Palette struct {
	glyphs []rune
	plain  []string
	html   []string
}

// New creates a palette from an ordered string of printable characters
func New(chars string) (*Palette, error) {
	if chars == "" {
		return nil, ErrEmpty
	}
	if !utf8.ValidString(chars) {
		return nil, fmt.Errorf("palette: invalid UTF-8")
	}

	glyphs := []rune(chars)
	for i, r := range glyphs {
		if !unicode.IsPrint(r) {
			return nil, fmt.Errorf("palette: glyph %d (%U) is not printable", i, r)
		}
	}

	p := &Palette{
		glyphs: glyphs,
		plain:  make([]string, len(glyphs)),
		html:   make([]string, len(glyphs)),
	}
	for i, r := range glyphs {
		p.plain[i] = string(r)
		p.html[i] = html.EscapeString(string(r))
	}
	return p, nil
}

// Named returns one of the built-in palettes
func Named(name string) (*Palette, error) {
	chars, ok := named[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("palette: unknown palette %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return New(chars)
}

// Names lists the built-in palette names
func Names() []string {
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the 95 glyph printable ASCII palette
func Default() *Palette {
	p, err := New(named[NameASCII95])
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of glyphs
func (p *Palette) Len() int { return len(p.glyphs) }

// At returns the glyph at index i, clamped to the palette bounds
func (p *Palette) At(i int) rune {
	return p.glyphs[p.clamp(i)]
}

// Index maps luminance in [0,1] to floor(l*(N-1)), clamped to [0, N-1].
// NaN maps to 0.
func (p *Palette) Index(luminance float64) int {
	if math.IsNaN(luminance) || luminance <= 0 {
		return 0
	}
	last := len(p.glyphs) - 1
	if luminance >= 1 {
		return last
	}
	return p.clamp(int(luminance * float64(last)))
}

// GlyphFor returns the glyph for a luminance value
func (p *Palette) GlyphFor(luminance float64) rune {
	return p.glyphs[p.Index(luminance)]
}

// Glyph returns the precomputed string form of the glyph at index i
func (p *Palette) Glyph(i int) string {
	return p.plain[p.clamp(i)]
}

// HTMLGlyph returns the HTML-escaped string form of the glyph at index i
func (p *Palette) HTMLGlyph(i int) string {
	return p.html[p.clamp(i)]
}

// String returns the palette glyphs in order
func (p *Palette) String() string {
	return string(p.glyphs)
}

func (p *Palette) clamp(i int) int {
	if i < 0 {
		return 0
	}
	if i >= len(p.glyphs) {
		return len(p.glyphs) - 1
	}
	return i
}

func ascii95() string {
	var b strings.Builder
	for c := byte(0x20); c <= 0x7e; c++ {
		b.WriteByte(c)
	}
	return b.String()
}
