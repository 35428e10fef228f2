// ABOUTME: Video source package
// ABOUTME: Pull-based frame sources for the capture loop
// Package video provides live video sources with a pull-based accessor.
//
// A Source hands out its most recent frame on demand. Background readers keep
// only the newest frame; older unconsumed frames are overwritten, never queued.
// Every source captures video only; audio is never requested.
//
// Available sources:
//   - testpattern: deterministic animated pattern, no device needed
//   - ffmpeg:      spawns ffmpeg and reads raw RGBA frames from its stdout
//   - mjpeg:       reads a multipart/x-mixed-replace MJPEG stream over HTTP
//   - gstreamer:   v4l2src pipeline via go-gst (build with -tags gst)
//
// Example:
//
//	src, err := video.Open(ctx, video.Config{Kind: video.KindFFmpeg, Device: "/dev/video0"})
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//	img, err := src.Frame()
package video
