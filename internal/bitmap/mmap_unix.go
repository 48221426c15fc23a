//go:build unix

package bitmap

import (
	"image"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/objectfs/imageop/pkg/errors"
)

const mappingSupported = true

// allocateMapped backs an RGBA image with a shared mapping of a fresh scratch
// file. The file descriptor is closed immediately; the mapping keeps the pages
// alive until the image is collected.
func allocateMapped(files FileCreator, w, h int) (*image.RGBA, error) {
	size := int(PixelBytes(w, h))

	f, err := files.CreateFile("bitmap-", ".rgba")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAllocationFailed, err, "create bitmap file").WithComponent("bitmap")
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAllocationFailed, err, "size bitmap file").
			WithComponent("bitmap").
			WithDetail("file", f.Name())
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAllocationFailed, err, "map bitmap file").
			WithComponent("bitmap").
			WithDetail("file", f.Name())
	}

	img := &image.RGBA{Pix: data, Stride: 4 * w, Rect: image.Rect(0, 0, w, h)}
	runtime.AddCleanup(img, func(b []byte) { _ = unix.Munmap(b) }, data)
	return img, nil
}
