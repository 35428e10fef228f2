// ABOUTME: MJPEG over HTTP video source
// ABOUTME: Decodes multipart/x-mixed-replace JPEG parts in the background
package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
)

const mjpegMediaType = "multipart/x-mixed-replace"

// MJPEGSource reads frames from an MJPEG HTTP endpoint (IP cameras,
// mjpg-streamer, ffmpeg's mpjpeg muxer)
type MJPEGSource struct {
	latest

	url    string
	body   io.ReadCloser
	cancel context.CancelFunc
	done   chan struct{}
	log    pslog.Logger

	closeOnce sync.Once
}

// NewMJPEG connects to cfg.URL and validates the multipart response before
// returning
func NewMJPEG(ctx context.Context, cfg Config) (*MJPEGSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mjpeg source needs a URL")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", mjpegMediaType)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		stop()
		cancel()
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	boundary, err := multipartBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		stop()
		cancel()
		return nil, err
	}

	s := &MJPEGSource{
		url:    cfg.URL,
		body:   resp.Body,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    logger.With("source", KindMJPEG, "url", cfg.URL),
	}
	go s.run(multipart.NewReader(resp.Body, boundary))
	return s, nil
}

func multipartBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("invalid content type %q: %w", contentType, err)
	}
	if mediaType != mjpegMediaType {
		return "", fmt.Errorf("unexpected content type: %s", mediaType)
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return "", fmt.Errorf("missing multipart boundary")
	}
	return boundary, nil
}

func (s *MJPEGSource) run(mr *multipart.Reader) {
	defer close(s.done)

	var (
		jpegBytes bytes.Buffer
		decodeErr int
		started   = time.Now()
	)
	for {
		part, err := mr.NextPart()
		if err != nil {
			s.fail(fmt.Errorf("mjpeg stream ended: %w", err))
			s.log.Debug("mjpeg reader stopped", "err", err, "frames", s.Stats().Received, "uptime", time.Since(started))
			return
		}

		jpegBytes.Reset()
		_, err = io.Copy(&jpegBytes, part)
		part.Close()
		if err != nil {
			s.log.Debug("mjpeg part read failed", "err", err)
			continue
		}

		img, err := jpeg.Decode(bytes.NewReader(jpegBytes.Bytes()))
		if err != nil {
			decodeErr++
			s.log.Debug("mjpeg decode failed", "err", err, "bytes", jpegBytes.Len(), "failures", decodeErr)
			continue
		}
		s.put(img)
	}
}

func (s *MJPEGSource) Frame() (image.Image, error) {
	return s.get()
}

func (s *MJPEGSource) Size() (int, int) {
	return s.size()
}

func (s *MJPEGSource) Close() error {
	s.closeOnce.Do(func() {
		s.fail(ErrClosed)
		s.cancel()
		s.body.Close()
	})
	<-s.done
	return nil
}
