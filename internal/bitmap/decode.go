package bitmap

import (
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/objectfs/imageop/pkg/errors"
)

// Decoder reads image headers and pixels from a named resource.
type Decoder interface {
	DecodeConfig(path string) (image.Config, error)
	Decode(path string, alloc Allocator) (*Bitmap, error)
}

// FileDecoder reads images from the local filesystem using the registered
// image formats: png, jpeg, gif, bmp, tiff and webp.
type FileDecoder struct{}

// DecodeConfig reads only the header of path.
func (FileDecoder) DecodeConfig(path string) (image.Config, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return image.Config{}, decodeError(path, "open", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, decodeError(path, "header", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, errors.Newf(errors.ErrCodeDecodeFailed, "image %s has empty size %dx%d", path, cfg.Width, cfg.Height).
			WithComponent("bitmap")
	}
	return cfg, nil
}

// Decode fully decodes path into a bitmap obtained from alloc.
func (FileDecoder) Decode(path string, alloc Allocator) (*Bitmap, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, decodeError(path, "open", err)
	}
	defer f.Close()

	return DecodeReader(f, path, alloc)
}

// DecodeReader decodes r into a bitmap obtained from alloc. name is used in errors.
func DecodeReader(r io.Reader, name string, alloc Allocator) (*Bitmap, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, decodeError(name, "decode", err)
	}
	return FromImage(src, alloc)
}

// FromImage converts any image into an origin-anchored RGBA bitmap.
func FromImage(src image.Image, alloc Allocator) (*Bitmap, error) {
	if alloc == nil {
		alloc = HeapAllocator{}
	}
	b := src.Bounds()
	dst, err := alloc.Allocate(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	draw.Draw(dst.img, dst.img.Rect, src, b.Min, draw.Src)
	return dst, nil
}

func decodeError(path, op string, cause error) *errors.Error {
	return errors.Wrap(errors.ErrCodeDecodeFailed, cause, "image "+op+" failed").
		WithComponent("bitmap").
		WithOperation(op).
		WithDetail("path", path)
}
