package bitmap

import (
	"image"
	"os"

	"github.com/objectfs/imageop/pkg/errors"
)

// Allocator provides zeroed bitmaps of a given size.
type Allocator interface {
	Allocate(w, h int) (*Bitmap, error)
}

// FileCreator creates scratch files. session.Store implements it.
type FileCreator interface {
	CreateFile(prefix, suffix string) (*os.File, error)
}

// HeapAllocator allocates bitmaps on the Go heap.
type HeapAllocator struct{}

// Allocate implements Allocator.
func (HeapAllocator) Allocate(w, h int) (*Bitmap, error) {
	if err := checkSize(w, h); err != nil {
		return nil, err
	}
	return New(image.NewRGBA(image.Rect(0, 0, w, h))), nil
}

// MappedAllocator places bitmaps of at least Threshold bytes in memory-mapped
// scratch files and smaller ones on the heap. A zero Threshold or a nil Files
// disables mapping. Where mapping is unsupported every bitmap goes to the heap.
type MappedAllocator struct {
	Files     FileCreator
	Threshold int64
}

// Allocate implements Allocator.
func (a *MappedAllocator) Allocate(w, h int) (*Bitmap, error) {
	if err := checkSize(w, h); err != nil {
		return nil, err
	}
	if a.Files == nil || a.Threshold <= 0 || PixelBytes(w, h) < a.Threshold || !mappingSupported {
		return HeapAllocator{}.Allocate(w, h)
	}
	img, err := allocateMapped(a.Files, w, h)
	if err != nil {
		return nil, err
	}
	return &Bitmap{img: img, mapped: true}, nil
}

func checkSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return errors.Newf(errors.ErrCodeInvalidArgument, "bitmap size %dx%d must be positive", w, h).
			WithComponent("bitmap")
	}
	return nil
}
