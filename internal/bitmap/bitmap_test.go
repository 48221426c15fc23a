package bitmap

import (
	stderrors "errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xdraw "golang.org/x/image/draw"

	"github.com/objectfs/imageop/pkg/errors"
)

type dirFiles struct {
	dir     string
	created int
}

func (d *dirFiles) CreateFile(prefix, suffix string) (*os.File, error) {
	d.created++
	return os.CreateTemp(d.dir, prefix+"*"+suffix)
}

// gradient returns a w×h image whose pixels encode their coordinates.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestHeapAllocator(t *testing.T) {
	b, err := HeapAllocator{}.Allocate(3, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(3, 2), b.Size())
	assert.Equal(t, int64(24), b.Bytes())
	assert.False(t, b.Mapped())

	_, err = HeapAllocator{}.Allocate(0, 2)
	assert.True(t, stderrors.Is(err, errors.ErrInvalid))
}

func TestMappedAllocator(t *testing.T) {
	files := &dirFiles{dir: t.TempDir()}
	a := &MappedAllocator{Files: files, Threshold: PixelBytes(16, 16)}

	small, err := a.Allocate(4, 4)
	require.NoError(t, err)
	assert.False(t, small.Mapped())
	assert.Equal(t, 0, files.created)

	big, err := a.Allocate(32, 16)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(32, 16), big.Size())
	assert.Equal(t, PixelBytes(32, 16), big.Bytes())

	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" || runtime.GOOS == "js" || runtime.GOOS == "wasip1" {
		assert.False(t, big.Mapped())
		return
	}

	assert.True(t, big.Mapped())
	assert.Equal(t, 1, files.created)

	// mapped pages are writable and zeroed
	assert.Equal(t, color.RGBA{}, big.Image().RGBAAt(31, 15))
	big.Image().SetRGBA(31, 15, color.RGBA{R: 1, G: 2, B: 3, A: 4})
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 4}, big.Image().RGBAAt(31, 15))

	entries, err := os.ReadDir(files.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, PixelBytes(32, 16), info.Size())
}

func TestMappedAllocator_Disabled(t *testing.T) {
	files := &dirFiles{dir: t.TempDir()}
	for _, a := range []*MappedAllocator{{Files: files}, {Threshold: 1}} {
		b, err := a.Allocate(64, 64)
		require.NoError(t, err)
		assert.False(t, b.Mapped())
	}
	assert.Equal(t, 0, files.created)
}

func TestMappedAllocator_CreateFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mapping unsupported")
	}
	files := &dirFiles{dir: filepath.Join(t.TempDir(), "missing")}
	a := &MappedAllocator{Files: files, Threshold: 1}

	_, err := a.Allocate(8, 8)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAllocationFailed, errors.CodeOf(err))
}

func TestFileDecoder(t *testing.T) {
	src := gradient(17, 10)
	path := writePNG(t, src)

	cfg, err := FileDecoder{}.DecodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 17, cfg.Width)
	assert.Equal(t, 10, cfg.Height)

	b, err := FileDecoder{}.Decode(path, nil)
	require.NoError(t, err)
	assert.True(t, b.Equal(New(src)))
}

func TestFileDecoder_Failures(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0600))

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.png")},
		{"malformed", garbage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FileDecoder{}.DecodeConfig(tt.path)
			assert.True(t, stderrors.Is(err, errors.ErrDecode), "DecodeConfig: %v", err)

			_, err = FileDecoder{}.Decode(tt.path, HeapAllocator{})
			assert.True(t, stderrors.Is(err, errors.ErrDecode), "Decode: %v", err)
		})
	}
}

func TestFromImage_Offset(t *testing.T) {
	src := gradient(8, 8).SubImage(image.Rect(2, 3, 6, 8))
	b, err := FromImage(src, nil)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 5), b.Bounds())
	assert.Equal(t, src.At(2, 3), b.Image().At(0, 0))
}

func TestParseInterpolator(t *testing.T) {
	for _, name := range []string{"", "nearest", "approx-bilinear", "BiLinear", "catmull-rom"} {
		interp, err := ParseInterpolator(name)
		require.NoError(t, err, name)
		assert.NotNil(t, interp)
	}
	_, err := ParseInterpolator("lanczos")
	assert.True(t, stderrors.Is(err, errors.ErrInvalid))
}

func TestScale(t *testing.T) {
	src := New(gradient(10, 6))

	dst, err := HeapAllocator{}.Allocate(5, 3)
	require.NoError(t, err)
	Scale(dst, src, xdraw.CatmullRom)
	assert.Equal(t, image.Pt(5, 3), dst.Size())
	assert.False(t, dst.Equal(src))

	same, err := HeapAllocator{}.Allocate(10, 6)
	require.NoError(t, err)
	Scale(same, src, xdraw.CatmullRom)
	assert.True(t, same.Equal(src))
}

func TestScaleRegion_MatchesCrop(t *testing.T) {
	src := New(gradient(40, 27))

	for _, name := range []string{"nearest", "approx-bilinear", "bilinear", "catmull-rom"} {
		interp, err := ParseInterpolator(name)
		require.NoError(t, err)

		for _, factor := range []float64{0.3, 0.5, 0.75, 1.5, 2, 2.5} {
			scaled := image.Pt(int(math.Round(40*factor)), int(math.Round(27*factor)))

			full, err := HeapAllocator{}.Allocate(scaled.X, scaled.Y)
			require.NoError(t, err)
			Scale(full, src, interp)

			for y := 0; y < scaled.Y; y += 8 {
				for x := 0; x < scaled.X; x += 8 {
					region := image.Rect(x, y, x+8, y+8).Intersect(image.Rect(0, 0, scaled.X, scaled.Y))

					want, err := HeapAllocator{}.Allocate(region.Dx(), region.Dy())
					require.NoError(t, err)
					CopyRect(want, full, region)

					got, err := HeapAllocator{}.Allocate(region.Dx(), region.Dy())
					require.NoError(t, err)
					ScaleRegion(got, src, scaled, region, interp)

					assert.True(t, got.Equal(want), "%s factor %v region %v", name, factor, region)
				}
			}
		}
	}
}

func TestCopyRect(t *testing.T) {
	src := New(gradient(17, 10))
	r := image.Rect(16, 8, 17, 10)

	dst, err := HeapAllocator{}.Allocate(r.Dx(), r.Dy())
	require.NoError(t, err)
	CopyRect(dst, src, r)

	assert.Equal(t, src.Image().RGBAAt(16, 8), dst.Image().RGBAAt(0, 0))
	assert.Equal(t, src.Image().RGBAAt(16, 9), dst.Image().RGBAAt(0, 1))
}

func TestEqual(t *testing.T) {
	a := New(gradient(4, 4))
	b := New(gradient(4, 4))
	c := New(gradient(4, 3))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))

	b.Image().SetRGBA(3, 3, color.RGBA{})
	assert.False(t, a.Equal(b))
}
