// ABOUTME: Package documentation for render
// ABOUTME: Local display targets for transcoded frames
// Package render displays transcoded frames locally.
//
// Every Render call replaces what was shown before; a renderer never
// accumulates frames.
//
// Example:
//
//	r := render.NewWriter(os.Stdout)
//	r.Render(frame)
package render
