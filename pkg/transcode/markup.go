// ABOUTME: Markup styles for transcoded frames
// ABOUTME: ANSI truecolor escapes and HTML font elements
package transcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Markup selects how cell colors are encoded
type Markup string

const (
	// MarkupANSI encodes each cell as ESC[38;2;R;G;Bm followed by the glyph
	MarkupANSI Markup = "ansi"
	// MarkupHTML encodes each cell as <font style="color: rgb(R,G,B)">G</font>
	MarkupHTML Markup = "html"
)

const (
	ansiPrefix = "\x1b[38;2;"
	ansiReset  = "\x1b[0m"
	htmlPrefix = `<font style="color: rgb(`
	htmlOpen   = `)">`
	htmlClose  = "</font>"
	rowBreak   = '\n'
)

// ParseMarkup validates a markup name; empty selects ANSI
func ParseMarkup(s string) (Markup, error) {
	switch Markup(strings.ToLower(strings.TrimSpace(s))) {
	case "", MarkupANSI:
		return MarkupANSI, nil
	case MarkupHTML:
		return MarkupHTML, nil
	default:
		return "", fmt.Errorf("transcode: unknown markup %q", s)
	}
}

// cellSize is an upper bound on the bytes one cell needs
func (m Markup) cellSize() int {
	if m == MarkupHTML {
		// prefix + "255,255,255" + open + longest entity + close
		return len(htmlPrefix) + 11 + len(htmlOpen) + 6 + len(htmlClose)
	}
	// prefix + "255;255;255m" + 4 byte rune
	return len(ansiPrefix) + 12 + 4
}

func appendANSICell(dst []byte, r, g, b uint8, glyph string) []byte {
	dst = append(dst, ansiPrefix...)
	dst = strconv.AppendUint(dst, uint64(r), 10)
	dst = append(dst, ';')
	dst = strconv.AppendUint(dst, uint64(g), 10)
	dst = append(dst, ';')
	dst = strconv.AppendUint(dst, uint64(b), 10)
	dst = append(dst, 'm')
	return append(dst, glyph...)
}

func appendHTMLCell(dst []byte, r, g, b uint8, glyph string) []byte {
	dst = append(dst, htmlPrefix...)
	dst = strconv.AppendUint(dst, uint64(r), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(g), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(b), 10)
	dst = append(dst, htmlOpen...)
	dst = append(dst, glyph...)
	return append(dst, htmlClose...)
}
