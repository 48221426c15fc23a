package imageop

import (
	"container/list"
	"image"
	"sync"

	"github.com/objectfs/imageop/internal/bitmap"
)

// node is one registered operation. Identity fields are immutable after
// construction. refs and retained are guarded by Cache.mu; the bitmap slot,
// generation and pending future by node.mu. Cache.mu is always taken first.
type node struct {
	key    Key
	kind   Kind
	size   image.Point
	parent *node

	path   string          // load
	factor float64         // scale
	tile   image.Point     // tile coordinates
	rect   image.Rectangle // tile rectangle in parent pixels

	refs     int
	retained *list.Element

	mu      sync.Mutex
	bitmap  *bitmap.Bitmap
	gen     uint64
	pending *Future
}

// cached returns the stored bitmap, if any.
func (n *node) cached() *bitmap.Bitmap {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bitmap
}

// idle reports whether the node has neither a bitmap nor a computation in flight.
func (n *node) idle() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bitmap == nil && n.pending == nil
}

// clearPending drops f as the node's in-flight computation.
func (n *node) clearPending(f *Future) {
	n.mu.Lock()
	if n.pending == f {
		n.pending = nil
	}
	n.mu.Unlock()
}

// clear drops the bitmap and bumps the generation. It reports whether a bitmap was dropped.
func (n *node) clear() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	if n.bitmap == nil {
		return false
	}
	n.bitmap = nil
	return true
}
