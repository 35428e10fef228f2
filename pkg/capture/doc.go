// ABOUTME: Package documentation for capture
// ABOUTME: Describes the armed/idle lifecycle and tick policy
// Package capture runs the fixed-rate frame pipeline.
//
// A Loop is Idle or Armed. Arm starts one ticker goroutine (replacing any
// previous one) and every tick pulls the current frame, rasterizes and
// transcodes it, renders it locally and publishes the text. A failed tick is
// counted and skipped; the ticker keeps running. Ticks never overlap: a tick
// that runs past the interval causes the missed ticks to be dropped.
//
// Example:
//
//	loop, err := capture.New(capture.Config{Source: src, Renderer: r})
//	if err != nil {
//		return err
//	}
//	loop.Arm(stream)
//	defer loop.Disarm()
package capture
