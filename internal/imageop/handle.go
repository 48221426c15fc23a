package imageop

import (
	"context"
	"image"
	"sync/atomic"

	"github.com/objectfs/imageop/internal/bitmap"
	"github.com/objectfs/imageop/internal/geometry"
	"github.com/objectfs/imageop/pkg/errors"
)

// Handle is a counted reference to a cache node. A node stays registered while
// any handle to it is unreleased. Handles are safe for concurrent use.
type Handle struct {
	cache    *Cache
	node     *node
	released atomic.Bool
}

func newHandle(c *Cache, n *node) *Handle {
	return &Handle{cache: c, node: n}
}

// Key returns the operation's content address.
func (h *Handle) Key() Key { return h.node.key }

// Kind returns the operation variant.
func (h *Handle) Kind() Kind { return h.node.kind }

// Size returns the declared pixel size, known without computing.
func (h *Handle) Size() image.Point { return h.node.size }

// TileSize returns the cache tile size used by Tile.
func (h *Handle) TileSize() image.Point { return h.cache.tileSize }

// TileGrid returns the tile grid over this operation's output.
func (h *Handle) TileGrid() geometry.Grid {
	return geometry.Grid{
		Width:      h.node.size.X,
		Height:     h.node.size.Y,
		TileWidth:  h.cache.tileSize.X,
		TileHeight: h.cache.tileSize.Y,
	}
}

// TileRect returns the pixel rectangle of tile (x, y).
func (h *Handle) TileRect(x, y int) (image.Rectangle, error) {
	return h.TileGrid().Rect(x, y)
}

// TilesCovering lists the tiles intersecting r.
func (h *Handle) TilesCovering(r image.Rectangle) []image.Point {
	return h.TileGrid().TilesCovering(r)
}

// Materialize starts or joins the computation of this operation's bitmap.
func (h *Handle) Materialize() *Future {
	if h.released.Load() {
		return completedFuture(nil, errReleased())
	}
	return h.cache.materialize(h.node)
}

// Bitmap materializes and waits for the result.
func (h *Handle) Bitmap(ctx context.Context) (*bitmap.Bitmap, error) {
	return h.Materialize().Get(ctx)
}

// Scale resolves this operation scaled by factor.
func (h *Handle) Scale(factor float64) (*Handle, error) {
	return h.cache.Resolve(Scale{Parent: h, Factor: factor})
}

// Tile resolves tile (x, y) of this operation.
func (h *Handle) Tile(x, y int) (*Handle, error) {
	return h.cache.Resolve(Tile{Parent: h, X: x, Y: y})
}

// Clone returns an independent handle to the same node.
func (h *Handle) Clone() (*Handle, error) {
	if h.released.Load() {
		return nil, errReleased()
	}
	c := h.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	// Release flips the flag before it takes the lock.
	if h.released.Load() || !c.liveLocked(h.node) {
		return nil, errReleased()
	}
	c.acquireLocked(h.node)
	return newHandle(c, h.node), nil
}

// Release drops the reference. Further calls are no-ops.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.cache.release(h.node)
	}
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	return h.released.Load()
}

func errReleased() error {
	return errors.NewError(errors.ErrCodeInvalidArgument, "handle already released").WithComponent("imageop")
}
