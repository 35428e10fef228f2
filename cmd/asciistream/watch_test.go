// ABOUTME: Tests for the watch frame handling
// ABOUTME: Covers stream following, filtering and HTML conversion
package main

import (
	"strings"
	"testing"

	"github.com/asciistream/asciistream-go/internal/logx"
	"github.com/asciistream/asciistream-go/pkg/protocol"
	"github.com/asciistream/asciistream-go/pkg/render"
	"github.com/asciistream/asciistream-go/pkg/transcode"
)

func newTestWatcher(filter string) (*watcher, *[]transcode.Frame) {
	var frames []transcode.Frame
	w := &watcher{
		renderer: render.Func(func(f transcode.Frame) error {
			frames = append(frames, f)
			return nil
		}),
		filter: filter,
		log:    logx.Discard(),
	}
	return w, &frames
}

const ansiCell = "\n\x1b[38;2;1;2;3mA\x1b[0m"

func TestWatcherFollowsFirstStream(t *testing.T) {
	w, frames := newTestWatcher("")

	w.handleStart(protocol.StreamStart{StreamID: "s1", Producer: "cam1"})
	w.handleStart(protocol.StreamStart{StreamID: "s2", Producer: "cam2"})

	for _, id := range []string{"s1", "s2", "s1"} {
		if err := w.handleFrame(protocol.StreamFrame{StreamID: id, Item: ansiCell}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(*frames) != 2 {
		t.Fatalf("expected 2 frames from s1, got %d", len(*frames))
	}
	if (*frames)[1].Seq != 2 {
		t.Errorf("expected seq 2, got %d", (*frames)[1].Seq)
	}

	w.handleEnd(protocol.StreamEnd{StreamID: "s1", Reason: "completed"})
	if w.current != "" {
		t.Fatalf("expected no current stream, got %s", w.current)
	}
	if err := w.handleFrame(protocol.StreamFrame{StreamID: "s2", Item: ansiCell}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.current != "s2" || len(*frames) != 3 {
		t.Errorf("expected to follow s2 after s1 ended, current=%s frames=%d", w.current, len(*frames))
	}
}

func TestWatcherFilter(t *testing.T) {
	w, frames := newTestWatcher("s2")

	w.handleStart(protocol.StreamStart{StreamID: "s1"})
	if w.current != "" {
		t.Errorf("filtered stream should not be followed, got %s", w.current)
	}
	_ = w.handleFrame(protocol.StreamFrame{StreamID: "s1", Item: ansiCell})
	_ = w.handleFrame(protocol.StreamFrame{StreamID: "s2", Item: ansiCell})

	if len(*frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(*frames))
	}
}

func TestWatcherConvertsHTML(t *testing.T) {
	w, frames := newTestWatcher("")

	html := "\n" + `<font style="color: rgb(10,20,30)">&lt;</font>`
	if err := w.handleFrame(protocol.StreamFrame{StreamID: "s1", Item: html}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(*frames))
	}
	got := (*frames)[0]
	if got.Markup != transcode.MarkupANSI {
		t.Errorf("expected ansi markup, got %s", got.Markup)
	}
	if !strings.Contains(got.Text, "\x1b[38;2;10;20;30m<") {
		t.Errorf("unexpected converted text %q", got.Text)
	}
}

func TestWatcherRejectsMalformedHTML(t *testing.T) {
	w, frames := newTestWatcher("")

	err := w.handleFrame(protocol.StreamFrame{StreamID: "s1", Item: `<font style="color: rgb(1,2)">x</font>`})
	if err == nil {
		t.Error("expected error for malformed frame")
	}
	if len(*frames) != 0 {
		t.Errorf("expected no frames rendered, got %d", len(*frames))
	}
}
