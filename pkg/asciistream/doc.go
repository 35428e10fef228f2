// ABOUTME: High-level asciistream library API
// ABOUTME: Provides the Streamer for producers and the hub Server
// Package asciistream provides high-level APIs for streaming webcam frames as
// colorized text.
//
// This is the main entry point for most library users, providing:
//   - Streamer: capture frames, transcode them and stream them to a hub
//   - Server: a hub that accepts producer streams and fans them out to watchers
//
// For lower-level control, see the capture, session, protocol, transcode and
// video packages.
//
// Example Streamer:
//
//	src, err := video.Open(ctx, video.Config{Kind: video.KindFFmpeg, Device: "/dev/video0"})
//	streamer, err := asciistream.NewStreamer(asciistream.StreamerConfig{
//	    ServerAddr: "localhost:8937",
//	    Name:       "Desk Camera",
//	    Source:     src,
//	    Width:      80,
//	    Height:     45,
//	    Renderer:   render.NewWriter(os.Stdout),
//	})
//	err = streamer.Start(ctx)
//
// Example Server:
//
//	server, err := asciistream.NewServer(asciistream.ServerConfig{
//	    Port:       8937,
//	    EnableMDNS: true,
//	})
//	err = server.Start()
package asciistream
