// ABOUTME: Raw frame buffer package
// ABOUTME: Pixel sampling and image rasterization into reused RGBA buffers
// Package frame holds the raw pixel data a capture tick works on.
//
// A Buffer is a row-major RGBA byte grid, 4 bytes per pixel, alpha ignored.
// The Rasterizer scales arbitrary images into one Buffer that it allocates
// once and reuses for every call.
//
// Example:
//
//	r := frame.NewRasterizer(80, 45)
//	buf, err := r.Rasterize(img)
//	px := buf.At(0)
package frame
