// ABOUTME: Scales source images into a reused RGBA buffer
// ABOUTME: Uses x/image/draw for resampling
package frame

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Rasterizer draws images into a target-sized RGBA canvas it owns.
// Not safe for concurrent use; one capture loop owns one rasterizer.
type Rasterizer struct {
	width  int
	height int
	scaler draw.Scaler
	canvas *image.RGBA
}

// NewRasterizer creates a rasterizer for a columns x rows target.
// A zero dimension means "use the source image's size".
func NewRasterizer(width, height int) *Rasterizer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Rasterizer{
		width:  width,
		height: height,
		scaler: draw.ApproxBiLinear,
	}
}

// SetScaler overrides the resampling kernel (e.g. draw.NearestNeighbor)
func (r *Rasterizer) SetScaler(s draw.Scaler) {
	if s != nil {
		r.scaler = s
	}
}

// Size returns the configured target size
func (r *Rasterizer) Size() (int, int) {
	return r.width, r.height
}

// Rasterize scales img into the reused canvas and returns a Buffer view of it.
// The returned buffer is overwritten by the next call.
func (r *Rasterizer) Rasterize(img image.Image) (Buffer, error) {
	if img == nil {
		return Buffer{}, ErrEmptyFrame
	}
	src := img.Bounds()
	if src.Empty() {
		return Buffer{}, ErrEmptyFrame
	}

	w, h := r.width, r.height
	if w == 0 || h == 0 {
		w, h = src.Dx(), src.Dy()
	}

	dst := r.ensureCanvas(w, h)
	if src.Dx() == w && src.Dy() == h {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	} else {
		r.scaler.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}

	buf := Buffer{Width: w, Height: h, Pix: dst.Pix}
	if err := buf.Validate(); err != nil {
		return Buffer{}, fmt.Errorf("rasterize: %w", err)
	}
	return buf, nil
}

func (r *Rasterizer) ensureCanvas(w, h int) *image.RGBA {
	if r.canvas != nil {
		b := r.canvas.Bounds()
		if b.Dx() == w && b.Dy() == h {
			return r.canvas
		}
	}
	r.canvas = image.NewRGBA(image.Rect(0, 0, w, h))
	return r.canvas
}
