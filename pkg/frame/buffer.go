// ABOUTME: Pixel and Buffer types with byte-offset sampling
// ABOUTME: Luminance is the max channel over 255
package frame

import (
	"errors"
	"fmt"
)

// BytesPerPixel is the RGBA stride of a single pixel
const BytesPerPixel = 4

// ErrEmptyFrame is returned for nil images and zero-sized buffers
var ErrEmptyFrame = errors.New("frame: empty frame")

// Pixel is one RGB sample; alpha is dropped
type Pixel struct {
	R, G, B uint8
}

// Luminance returns max(R,G,B)/255 in [0,1]
func (p Pixel) Luminance() float64 {
	m := p.R
	if p.G > m {
		m = p.G
	}
	if p.B > m {
		m = p.B
	}
	return float64(m) / 255.0
}

// SampleAt returns the RGB channels of pixel i in a flat RGBA buffer.
// The caller guarantees 0 <= i < width*height.
func SampleAt(pix []byte, i int) Pixel {
	off := i * BytesPerPixel
	return Pixel{R: pix[off], G: pix[off+1], B: pix[off+2]}
}

// Buffer is a width x height RGBA grid in row-major order
type Buffer struct {
	Width  int
	Height int
	Pix    []byte
}

// NewBuffer allocates a zeroed buffer
func NewBuffer(width, height int) Buffer {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*BytesPerPixel),
	}
}

// Len returns the pixel count
func (b Buffer) Len() int {
	return b.Width * b.Height
}

// Empty reports whether the buffer has no pixels
func (b Buffer) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// At samples pixel i
func (b Buffer) At(i int) Pixel {
	return SampleAt(b.Pix, i)
}

// Set writes pixel i with full alpha
func (b Buffer) Set(i int, p Pixel) {
	off := i * BytesPerPixel
	b.Pix[off] = p.R
	b.Pix[off+1] = p.G
	b.Pix[off+2] = p.B
	b.Pix[off+3] = 0xff
}

// Validate checks dimensions against the pixel slice length
func (b Buffer) Validate() error {
	if b.Empty() {
		return ErrEmptyFrame
	}
	if want := b.Len() * BytesPerPixel; len(b.Pix) != want {
		return fmt.Errorf("frame: pixel data is %d bytes, want %d for %dx%d", len(b.Pix), want, b.Width, b.Height)
	}
	return nil
}

// FromPixels builds a buffer from a row-major pixel list
func FromPixels(width, height int, pixels []Pixel) (Buffer, error) {
	if len(pixels) != width*height {
		return Buffer{}, fmt.Errorf("frame: got %d pixels, want %d", len(pixels), width*height)
	}
	b := NewBuffer(width, height)
	for i, p := range pixels {
		b.Set(i, p)
	}
	return b, nil
}
