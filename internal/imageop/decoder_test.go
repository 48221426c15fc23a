package imageop

import (
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objectfs/imageop/internal/bitmap"
	"github.com/objectfs/imageop/pkg/errors"
)

// fakeDecoder serves in-memory images by path and counts full decodes.
type fakeDecoder struct {
	mu      sync.Mutex
	images  map[string]*image.RGBA
	fail    map[string]error
	decodes map[string]int
	panics  map[string]bool
	gate    chan struct{}
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		images:  make(map[string]*image.RGBA),
		fail:    make(map[string]error),
		decodes: make(map[string]int),
		panics:  make(map[string]bool),
	}
}

// add registers a w×h image whose pixels encode their coordinates.
func (d *fakeDecoder) add(path string, w, h int) *image.RGBA {
	img := pattern(w, h)
	d.mu.Lock()
	d.images[path] = img
	d.mu.Unlock()
	return img
}

// block makes Decode wait until the returned function is called.
func (d *fakeDecoder) block() (unblock func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (d *fakeDecoder) setFailure(path string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, path)
		return
	}
	d.fail[path] = err
}

func (d *fakeDecoder) count(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decodes[path]
}

func (d *fakeDecoder) DecodeConfig(path string) (image.Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[path]
	if !ok {
		return image.Config{}, errors.Newf(errors.ErrCodeDecodeFailed, "no image %s", path)
	}
	return image.Config{ColorModel: color.RGBAModel, Width: img.Rect.Dx(), Height: img.Rect.Dy()}, nil
}

func (d *fakeDecoder) Decode(path string, alloc bitmap.Allocator) (*bitmap.Bitmap, error) {
	d.mu.Lock()
	d.decodes[path]++
	gate, img, err, boom := d.gate, d.images[path], d.fail[path], d.panics[path]
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if boom {
		panic("decoder exploded")
	}
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.Newf(errors.ErrCodeDecodeFailed, "no image %s", path)
	}
	return bitmap.FromImage(img, alloc)
}

func pattern(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8(x ^ y), A: 0xff})
		}
	}
	return img
}

func testConfig() Config {
	return Config{TileWidth: 8, TileHeight: 8, Workers: 4, Interpolation: "nearest"}
}

func newTestCache(t *testing.T, dec *fakeDecoder, cfg Config, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithDecoder(dec)}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// sameRegion reports whether got equals rect r of full pixel for pixel.
func sameRegion(full, got *bitmap.Bitmap, r image.Rectangle) bool {
	if got.Size() != r.Size() {
		return false
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if full.Image().RGBAAt(x, y) != got.Image().RGBAAt(x-r.Min.X, y-r.Min.Y) {
				return false
			}
		}
	}
	return true
}
