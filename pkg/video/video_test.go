// ABOUTME: Tests for video sources
// ABOUTME: Covers the test pattern, mailbox, raw frame reader and MJPEG source
package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"
)

func TestTestPatternDeterministic(t *testing.T) {
	a := NewTestPattern(8, 4)
	b := NewTestPattern(8, 4)

	for i := 0; i < 3; i++ {
		fa, err := a.Frame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		fb, _ := b.Frame()
		if !bytes.Equal(fa.(*image.RGBA).Pix, fb.(*image.RGBA).Pix) {
			t.Fatalf("frame %d differs between identical sources", i)
		}
	}

	if w, h := a.Size(); w != 8 || h != 4 {
		t.Errorf("expected 8x4, got %dx%d", w, h)
	}
}

func TestTestPatternDefaultsAndClose(t *testing.T) {
	p := NewTestPattern(0, 0)
	if w, h := p.Size(); w != defaultPatternWidth || h != defaultPatternHeight {
		t.Errorf("expected default size, got %dx%d", w, h)
	}

	img, err := p.Frame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Bar sits in column 0 on the first frame
	if c := img.(*image.RGBA).RGBAAt(0, 0); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("expected white bar at column 0, got %v", c)
	}

	p.Close()
	if _, err := p.Frame(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestLatestMailbox(t *testing.T) {
	var l latest

	if _, err := l.get(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if w, h := l.size(); w != 0 || h != 0 {
		t.Errorf("expected 0x0 before first frame, got %dx%d", w, h)
	}

	first := image.NewRGBA(image.Rect(0, 0, 2, 2))
	second := image.NewRGBA(image.Rect(0, 0, 3, 1))
	l.put(first)
	l.put(second)

	got, err := l.get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != second {
		t.Error("expected the newest frame")
	}
	if w, h := l.size(); w != 3 || h != 1 {
		t.Errorf("expected 3x1, got %dx%d", w, h)
	}

	l.put(first)
	stats := l.Stats()
	if stats.Received != 3 || stats.Overwritten != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	boom := errors.New("boom")
	l.fail(boom)
	l.fail(errors.New("later"))
	if _, err := l.get(); !errors.Is(err, boom) {
		t.Errorf("expected first failure, got %v", err)
	}
}

func TestReadRawFrames(t *testing.T) {
	const w, h = 2, 1
	var raw bytes.Buffer
	for i := 0; i < 2; i++ {
		raw.Write([]byte{byte(i), 1, 2, 255, 3, 4, 5, 255})
	}
	raw.Write([]byte{9, 9, 9})

	var frames []image.Image
	err := readRawFrames(bufio.NewReaderSize(&raw, 16), w, h, func(img image.Image) {
		frames = append(frames, img)
	})
	if err == nil || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected truncated frame error, got %v", err)
	}
	if len(frames) == 0 {
		t.Fatal("expected at least one frame")
	}
	last := frames[len(frames)-1].(*image.RGBA)
	if last.Pix[0] != 1 || last.Pix[4] != 3 {
		t.Errorf("unexpected last frame pixels %v", last.Pix)
	}
}

func TestReadRawFramesCleanEOF(t *testing.T) {
	raw := bytes.NewReader([]byte{1, 2, 3, 255})
	count := 0
	err := readRawFrames(bufio.NewReader(raw), 1, 1, func(image.Image) { count++ })
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 frame, got %d", count)
	}
}

func TestFFmpegArgs(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		contains []string
		absent   []string
	}{
		{
			name:     "v4l2 device",
			cfg:      Config{Device: "/dev/video0", Width: 80, Height: 45},
			contains: []string{"-f v4l2", "-framerate 30", "-i /dev/video0", "-an", "scale=80x45,setsar=1:1", "-pix_fmt rgba", "-f rawvideo pipe:1"},
		},
		{
			name:     "url input",
			cfg:      Config{URL: "rtsp://cam/stream", Width: 40, Height: 20, FPS: 15},
			contains: []string{"-i rtsp://cam/stream", "-r 15", "scale=40x20"},
			absent:   []string{"v4l2", "-framerate"},
		},
		{
			name:     "explicit format",
			cfg:      Config{Device: "video=Integrated Camera", Format: "dshow", Width: 10, Height: 10},
			contains: []string{"-f dshow"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined := strings.Join(ffmpegArgs(tt.cfg), " ")
			for _, want := range tt.contains {
				if !strings.Contains(joined, want) {
					t.Errorf("args %q missing %q", joined, want)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(joined, bad) {
					t.Errorf("args %q should not contain %q", joined, bad)
				}
			}
		})
	}
}

func TestNewFFmpegValidation(t *testing.T) {
	ctx := context.Background()

	if _, err := NewFFmpeg(ctx, Config{Device: "/dev/video0"}); err == nil {
		t.Error("expected error without output size")
	}
	if _, err := NewFFmpeg(ctx, Config{Width: 4, Height: 4}); err == nil {
		t.Error("expected error without input")
	}
	if _, err := NewFFmpeg(ctx, Config{Device: "/dev/video0", Width: 4, Height: 4, FFmpegPath: "/nonexistent/ffmpeg"}); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 5}
	fmt.Fprint(tb, "hello ")
	fmt.Fprint(tb, "world")
	if got := tb.String(); got != "world" {
		t.Errorf("expected tail %q, got %q", "world", got)
	}
}

func TestMultipartBoundary(t *testing.T) {
	tests := []struct {
		contentType string
		expected    string
		wantErr     bool
	}{
		{"multipart/x-mixed-replace; boundary=frame", "frame", false},
		{"multipart/x-mixed-replace;boundary=--myboundary", "myboundary", false},
		{"image/jpeg", "", true},
		{"multipart/x-mixed-replace", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, err := multipartBoundary(tt.contentType)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("boundary = %q, want %q", got, tt.expected)
			}
		})
	}
}

func encodeJPEG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestMJPEGSource(t *testing.T) {
	frame := encodeJPEG(t, 16, 8, color.RGBA{R: 200, G: 20, B: 20, A: 255})
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		w.WriteHeader(http.StatusOK)

		for i := 0; i < 2; i++ {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			part.Write(frame)
			w.(http.Flusher).Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src, err := NewMJPEG(context.Background(), Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewMJPEG: %v", err)
	}
	defer src.Close()

	deadline := time.Now().Add(2 * time.Second)
	var img image.Image
	for time.Now().Before(deadline) {
		img, err = src.Frame()
		if err == nil {
			break
		}
		if !errors.Is(err, ErrNotReady) {
			t.Fatalf("unexpected error: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if img == nil {
		t.Fatal("no frame received")
	}
	if w, h := src.Size(); w != 16 || h != 8 {
		t.Errorf("expected 16x8, got %dx%d", w, h)
	}

	r, _, _, _ := img.At(8, 4).RGBA()
	if r>>8 < 150 {
		t.Errorf("expected a red frame, got red=%d", r>>8)
	}
}

func TestMJPEGRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "nope")
	}))
	defer srv.Close()

	if _, err := NewMJPEG(context.Background(), Config{URL: srv.URL}); err == nil {
		t.Fatal("expected error for non-multipart response")
	}
}

func TestMJPEGRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := NewMJPEG(context.Background(), Config{URL: srv.URL}); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	src, err := Open(ctx, Config{Width: 4, Height: 2})
	if err != nil {
		t.Fatalf("default kind: %v", err)
	}
	if _, ok := src.(*TestPattern); !ok {
		t.Errorf("expected test pattern by default, got %T", src)
	}
	src.Close()

	if _, err := Open(ctx, Config{Kind: "webcam9000"}); err == nil {
		t.Error("expected error for unknown kind")
	}

	if _, err := Open(ctx, Config{Kind: KindMJPEG}); err == nil {
		t.Error("expected error for mjpeg without URL")
	}
}
