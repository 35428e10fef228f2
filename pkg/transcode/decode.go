// ABOUTME: Parses transcoded text back into glyph cells
// ABOUTME: Lets watchers re-encode HTML frames for terminal display
package transcode

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Cell is one decoded glyph with its color
type Cell struct {
	Glyph   rune
	R, G, B uint8
}

// Decoded is the parsed form of a transcoded frame
type Decoded struct {
	Rows  int
	Cells []Cell
	// RowStarts holds the cell index at which each row begins
	RowStarts []int
}

var errMalformed = errors.New("transcode: malformed frame text")

// DetectMarkup guesses the markup of frame text
func DetectMarkup(text string) Markup {
	if strings.Contains(text, htmlPrefix) {
		return MarkupHTML
	}
	return MarkupANSI
}

// Decode parses frame text produced by a Transcoder
func Decode(text string, markup Markup) (Decoded, error) {
	var d Decoded
	for len(text) > 0 {
		switch {
		case text[0] == rowBreak:
			d.Rows++
			d.RowStarts = append(d.RowStarts, len(d.Cells))
			text = text[1:]
		case strings.HasPrefix(text, ansiReset):
			text = text[len(ansiReset):]
		case markup == MarkupANSI && strings.HasPrefix(text, ansiPrefix):
			cell, rest, err := decodeANSICell(text[len(ansiPrefix):])
			if err != nil {
				return Decoded{}, err
			}
			d.Cells = append(d.Cells, cell)
			text = rest
		case markup == MarkupHTML && strings.HasPrefix(text, htmlPrefix):
			cell, rest, err := decodeHTMLCell(text[len(htmlPrefix):])
			if err != nil {
				return Decoded{}, err
			}
			d.Cells = append(d.Cells, cell)
			text = rest
		default:
			return Decoded{}, fmt.Errorf("%w: unexpected %q", errMalformed, truncate(text, 16))
		}
	}
	return d, nil
}

func decodeANSICell(s string) (Cell, string, error) {
	end := strings.IndexByte(s, 'm')
	if end < 0 {
		return Cell{}, "", fmt.Errorf("%w: unterminated escape", errMalformed)
	}
	r, g, b, err := parseTriple(s[:end], ";")
	if err != nil {
		return Cell{}, "", err
	}
	s = s[end+1:]
	glyph, size := utf8.DecodeRuneInString(s)
	if size == 0 || glyph == utf8.RuneError {
		return Cell{}, "", fmt.Errorf("%w: missing glyph", errMalformed)
	}
	return Cell{Glyph: glyph, R: r, G: g, B: b}, s[size:], nil
}

func decodeHTMLCell(s string) (Cell, string, error) {
	end := strings.Index(s, htmlOpen)
	if end < 0 {
		return Cell{}, "", fmt.Errorf("%w: unterminated font tag", errMalformed)
	}
	r, g, b, err := parseTriple(s[:end], ",")
	if err != nil {
		return Cell{}, "", err
	}
	s = s[end+len(htmlOpen):]
	closeAt := strings.Index(s, htmlClose)
	if closeAt < 0 {
		return Cell{}, "", fmt.Errorf("%w: missing </font>", errMalformed)
	}
	content := html.UnescapeString(s[:closeAt])
	glyph, size := utf8.DecodeRuneInString(content)
	if size == 0 || size != len(content) {
		return Cell{}, "", fmt.Errorf("%w: cell holds %q", errMalformed, content)
	}
	return Cell{Glyph: glyph, R: r, G: g, B: b}, s[closeAt+len(htmlClose):], nil
}

func parseTriple(s, sep string) (uint8, uint8, uint8, error) {
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: bad color %q", errMalformed, s)
	}
	var out [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: bad channel %q", errMalformed, p)
		}
		out[i] = uint8(v)
	}
	return out[0], out[1], out[2], nil
}

// ToANSI re-encodes frame text of any markup as ANSI markup
func ToANSI(text string) (string, error) {
	markup := DetectMarkup(text)
	if markup == MarkupANSI {
		return text, nil
	}
	d, err := Decode(text, markup)
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, d.Rows+len(d.Cells)*MarkupANSI.cellSize()+len(ansiReset))
	row := 0
	for i, c := range d.Cells {
		for row < len(d.RowStarts) && d.RowStarts[row] == i {
			out = append(out, rowBreak)
			row++
		}
		out = appendANSICell(out, c.R, c.G, c.B, string(c.Glyph))
	}
	for ; row < len(d.RowStarts); row++ {
		out = append(out, rowBreak)
	}
	out = append(out, ansiReset...)
	return string(out), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
