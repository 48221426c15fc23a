package bitmap

import (
	"image"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/objectfs/imageop/pkg/errors"
)

// ParseInterpolator maps a configuration name to an x/image/draw interpolator.
func ParseInterpolator(name string) (xdraw.Interpolator, error) {
	switch strings.ToLower(name) {
	case "nearest", "nearest-neighbor":
		return xdraw.NearestNeighbor, nil
	case "approx-bilinear":
		return xdraw.ApproxBiLinear, nil
	case "bilinear":
		return xdraw.BiLinear, nil
	case "", "catmull-rom":
		return xdraw.CatmullRom, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "unknown interpolation %q", name).
			WithComponent("bitmap")
	}
}

// Scale resamples all of src into dst.
func Scale(dst, src *Bitmap, interp xdraw.Interpolator) {
	if dst.Bounds() == src.Bounds() {
		xdraw.Copy(dst.img, image.Point{}, src.img, src.img.Rect, xdraw.Src, nil)
		return
	}
	interp.Scale(dst.img, dst.img.Rect, src.img, src.img.Rect, xdraw.Src, nil)
}

// ScaleRegion renders region of src scaled to scaled into dst, which must be
// region-sized. The destination rectangle handed to the interpolator is the
// full scaled extent shifted by -region.Min, so every pixel is sampled exactly
// as a full Scale followed by a crop would sample it; only the pixels inside
// dst are written.
func ScaleRegion(dst, src *Bitmap, scaled image.Point, region image.Rectangle, interp xdraw.Interpolator) {
	off := dst.img.Rect.Min.Sub(region.Min)
	dr := image.Rectangle{Min: off, Max: off.Add(scaled)}
	interp.Scale(dst.img, dr, src.img, src.img.Rect, xdraw.Src, nil)
}

// CopyRect copies r of src into dst, which must be r-sized.
func CopyRect(dst, src *Bitmap, r image.Rectangle) {
	xdraw.Copy(dst.img, image.Point{}, src.img, r, xdraw.Src, nil)
}
