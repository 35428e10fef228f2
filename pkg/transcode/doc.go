// ABOUTME: Frame transcoding package
// ABOUTME: Converts RGBA buffers into colorized glyph text
// Package transcode turns a frame.Buffer into a single text artifact that is
// both displayed locally and sent over the wire unchanged.
//
// Every pixel becomes one cell: a glyph chosen by luminance from a palette,
// styled with the pixel's exact RGB color. A row break is written before
// every row, including the first, so a frame carries exactly Height breaks
// and Width*Height cells.
//
// Two markups are supported:
//   - ansi: 24-bit SGR foreground escapes, for terminals
//   - html: <font style="color: rgb(r,g,b)"> elements, for browsers
//
// Example:
//
//	tc := transcode.New(transcode.Config{Palette: palette.Default()})
//	f, err := tc.Transcode(buf)
//	fmt.Print(f.Text)
package transcode
