// Package geometry maps a source image onto a fixed-size tile grid.
package geometry

import (
	"image"

	"github.com/objectfs/imageop/pkg/errors"
)

// Grid partitions a source of Width×Height pixels into tiles of TileWidth×TileHeight.
// Edge tiles are truncated to the source bounds.
type Grid struct {
	Width, Height         int
	TileWidth, TileHeight int
}

// New validates the dimensions and returns the grid.
func New(sourceW, sourceH, tileW, tileH int) (Grid, error) {
	if sourceW <= 0 || sourceH <= 0 {
		return Grid{}, errors.Newf(errors.ErrCodeInvalidArgument, "source size %dx%d must be positive", sourceW, sourceH).
			WithComponent("geometry")
	}
	if tileW <= 0 || tileH <= 0 {
		return Grid{}, errors.Newf(errors.ErrCodeInvalidArgument, "tile size %dx%d must be positive", tileW, tileH).
			WithComponent("geometry")
	}
	return Grid{Width: sourceW, Height: sourceH, TileWidth: tileW, TileHeight: tileH}, nil
}

// NumTilesX returns ceil(Width/TileWidth).
func (g Grid) NumTilesX() int {
	return (g.Width + g.TileWidth - 1) / g.TileWidth
}

// NumTilesY returns ceil(Height/TileHeight).
func (g Grid) NumTilesY() int {
	return (g.Height + g.TileHeight - 1) / g.TileHeight
}

// Count returns the total number of tiles.
func (g Grid) Count() int {
	return g.NumTilesX() * g.NumTilesY()
}

// Size returns the source size.
func (g Grid) Size() image.Point {
	return image.Pt(g.Width, g.Height)
}

// TileSize returns the nominal tile size.
func (g Grid) TileSize() image.Point {
	return image.Pt(g.TileWidth, g.TileHeight)
}

// Bounds returns the source rectangle anchored at the origin.
func (g Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Width, g.Height)
}

// Contains reports whether (tx, ty) addresses a tile of the grid.
func (g Grid) Contains(tx, ty int) bool {
	return tx >= 0 && ty >= 0 && tx < g.NumTilesX() && ty < g.NumTilesY()
}

// Rect returns the source pixel rectangle covered by tile (tx, ty).
func (g Grid) Rect(tx, ty int) (image.Rectangle, error) {
	if !g.Contains(tx, ty) {
		return image.Rectangle{}, errors.Newf(errors.ErrCodeOutOfBounds,
			"tile (%d,%d) outside %dx%d grid", tx, ty, g.NumTilesX(), g.NumTilesY()).
			WithComponent("geometry").
			WithDetail("tile_x", tx).
			WithDetail("tile_y", ty)
	}
	x0, y0 := tx*g.TileWidth, ty*g.TileHeight
	return image.Rect(x0, y0, min(x0+g.TileWidth, g.Width), min(y0+g.TileHeight, g.Height)), nil
}

// TilesCovering lists, row-major, every tile intersecting r after clipping r
// to the source bounds. An empty intersection yields nil.
func (g Grid) TilesCovering(r image.Rectangle) []image.Point {
	r = r.Canon().Intersect(g.Bounds())
	if r.Empty() {
		return nil
	}
	minX, minY := r.Min.X/g.TileWidth, r.Min.Y/g.TileHeight
	maxX, maxY := (r.Max.X-1)/g.TileWidth, (r.Max.Y-1)/g.TileHeight

	tiles := make([]image.Point, 0, (maxX-minX+1)*(maxY-minY+1))
	for ty := minY; ty <= maxY; ty++ {
		for tx := minX; tx <= maxX; tx++ {
			tiles = append(tiles, image.Pt(tx, ty))
		}
	}
	return tiles
}
