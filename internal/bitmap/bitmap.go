// Package bitmap holds the RGBA pixel buffers produced by image operations,
// along with decoding, resampling and heap or file-mapped allocation.
//
// A Bitmap is immutable once its producing operation has completed. Pixel
// memory of a mapped bitmap is released when its *image.RGBA becomes
// unreachable, so sub-images must not outlive the Bitmap they were cut from.
package bitmap

import (
	"bytes"
	"image"
)

// Bitmap is an 8-bit RGBA image anchored at the origin.
type Bitmap struct {
	img    *image.RGBA
	mapped bool
}

// New wraps img. The image must not be modified after wrapping.
func New(img *image.RGBA) *Bitmap {
	return &Bitmap{img: img}
}

// Image returns the underlying pixels.
func (b *Bitmap) Image() *image.RGBA {
	return b.img
}

// Size returns width and height.
func (b *Bitmap) Size() image.Point {
	return b.img.Rect.Size()
}

// Bounds returns the pixel rectangle.
func (b *Bitmap) Bounds() image.Rectangle {
	return b.img.Rect
}

// Bytes returns the size of the pixel buffer.
func (b *Bitmap) Bytes() int64 {
	return int64(len(b.img.Pix))
}

// Mapped reports whether the pixels live in a memory-mapped scratch file.
func (b *Bitmap) Mapped() bool {
	return b.mapped
}

// Equal reports whether both bitmaps have the same bounds and pixels.
func (b *Bitmap) Equal(o *Bitmap) bool {
	if b == o {
		return true
	}
	if b == nil || o == nil || b.img.Rect != o.img.Rect {
		return false
	}
	w := b.img.Rect.Dx() * 4
	for y := 0; y < b.img.Rect.Dy(); y++ {
		ra := b.img.Pix[y*b.img.Stride : y*b.img.Stride+w]
		rb := o.img.Pix[y*o.img.Stride : y*o.img.Stride+w]
		if !bytes.Equal(ra, rb) {
			return false
		}
	}
	return true
}

// PixelBytes returns the byte size of a w×h RGBA buffer.
func PixelBytes(w, h int) int64 {
	return int64(w) * int64(h) * 4
}
