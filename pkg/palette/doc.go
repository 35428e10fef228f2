// ABOUTME: Character palette package for luminance-to-glyph lookup
// ABOUTME: Provides fixed ordered glyph sets from darkest to brightest
// Package palette maps pixel luminance to displayable characters.
//
// A Palette is an ordered set of glyphs where index 0 is the darkest glyph
// and index N-1 the brightest. Lookups clamp to the valid range, so any
// luminance value (including NaN or values outside [0,1]) is safe to query.
//
// Named palettes:
//   - ascii95: the 95 printable ASCII characters in code-point order (default)
//   - ramp:    a short perceptual ramp " .:-=+*#%@"
//   - blocks:  shade blocks " ░▒▓█"
//
// Example:
//
//	p := palette.Default()
//	r := p.GlyphFor(0.5) // 'O'
package palette
