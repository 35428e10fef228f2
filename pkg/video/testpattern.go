// ABOUTME: Deterministic animated test pattern source
// ABOUTME: Needs no device; used by tests and demos
package video

import (
	"image"
	"sync"
)

const (
	defaultPatternWidth  = 80
	defaultPatternHeight = 45
)

// TestPattern renders color gradients with a sweeping white bar.
// Frame n is a pure function of n.
type TestPattern struct {
	mu     sync.Mutex
	img    *image.RGBA
	n      uint64
	closed bool
}

// NewTestPattern creates a pattern source; zero sizes select 80x45
func NewTestPattern(width, height int) *TestPattern {
	if width <= 0 {
		width = defaultPatternWidth
	}
	if height <= 0 {
		height = defaultPatternHeight
	}
	return &TestPattern{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (p *TestPattern) Frame() (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	paintPattern(p.img, p.n)
	p.n++
	return p.img, nil
}

func (p *TestPattern) Size() (int, int) {
	b := p.img.Bounds()
	return b.Dx(), b.Dy()
}

func (p *TestPattern) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func paintPattern(img *image.RGBA, n uint64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	bar := int(n % uint64(w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*img.Stride + x*4
			if x == bar {
				img.Pix[off], img.Pix[off+1], img.Pix[off+2] = 0xff, 0xff, 0xff
			} else {
				img.Pix[off] = uint8(x * 255 / max(w-1, 1))
				img.Pix[off+1] = uint8(y * 255 / max(h-1, 1))
				img.Pix[off+2] = uint8(n * 8)
			}
			img.Pix[off+3] = 0xff
		}
	}
}
