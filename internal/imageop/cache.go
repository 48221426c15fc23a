package imageop

import (
	"fmt"
	"image"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	xdraw "golang.org/x/image/draw"

	"github.com/objectfs/imageop/internal/bitmap"
	"github.com/objectfs/imageop/internal/geometry"
	"github.com/objectfs/imageop/internal/logging"
	"github.com/objectfs/imageop/pkg/errors"
)

// Config holds the cache settings.
type Config struct {
	TileWidth     int
	TileHeight    int
	Workers       int    // compute slots, 0 means one per CPU
	Interpolation string // see bitmap.ParseInterpolator
	RetainBytes   int64  // retention list bound, 0 disables retention
}

// DefaultConfig returns 256×256 tiles, one worker per CPU, catmull-rom
// resampling and no retention.
func DefaultConfig() Config {
	return Config{TileWidth: 256, TileHeight: 256, Interpolation: "catmull-rom"}
}

// Recorder receives cache activity. metrics.Collector implements it.
type Recorder interface {
	RecordResolve(kind string, hit bool)
	RecordCompute(kind, status string, d time.Duration)
	SetLiveNodes(n int)
	SetRetainedBytes(n int64)
	RecordClear(dropped int)
}

type nopRecorder struct{}

func (nopRecorder) RecordResolve(string, bool)                  {}
func (nopRecorder) RecordCompute(string, string, time.Duration) {}
func (nopRecorder) SetLiveNodes(int)                            {}
func (nopRecorder) SetRetainedBytes(int64)                      {}
func (nopRecorder) RecordClear(int)                             {}

// Option configures a Cache.
type Option func(*Cache)

// WithDecoder replaces the filesystem decoder.
func WithDecoder(d bitmap.Decoder) Option {
	return func(c *Cache) { c.decoder = d }
}

// WithAllocator replaces the heap allocator, typically with a bitmap.MappedAllocator.
func WithAllocator(a bitmap.Allocator) Option {
	return func(c *Cache) { c.alloc = a }
}

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(c *Cache) { c.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) { c.recorder = r }
}

func errShutdown() error {
	return errors.NewError(errors.ErrCodeShutdownInProgress, "cache closed").WithComponent("imageop")
}

// Stats is a snapshot of cache counters.
type Stats struct {
	LiveNodes      int    `json:"live_nodes"`
	RetainedNodes  int    `json:"retained_nodes"`
	RetainedBytes  int64  `json:"retained_bytes"`
	Hits           uint64 `json:"hits"`
	Misses         uint64 `json:"misses"`
	Computes       uint64 `json:"computes"`
	Failures       uint64 `json:"failures"`
	Cancelled      uint64 `json:"cancelled"`
	Clears         uint64 `json:"clears"`
	ClearedBitmaps uint64 `json:"cleared_bitmaps"`
}

// Cache maps operation keys to at most one live node each, computes bitmaps
// on demand through a bounded executor and releases nodes deterministically
// when their last reference goes away.
type Cache struct {
	mu        sync.Mutex
	nodes     map[Key]*node
	retention *retention
	closed    bool

	exec     *executor
	tileSize image.Point
	interp   xdraw.Interpolator
	decoder  bitmap.Decoder
	alloc    bitmap.Allocator
	logger   log.Interface
	recorder Recorder

	hits, misses           atomic.Uint64
	computes, failures     atomic.Uint64
	cancelled              atomic.Uint64
	clears, clearedBitmaps atomic.Uint64
}

// New builds a cache from cfg.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.TileWidth <= 0 || cfg.TileHeight <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "tile size %dx%d must be positive", cfg.TileWidth, cfg.TileHeight).
			WithComponent("imageop")
	}
	interp, err := bitmap.ParseInterpolator(cfg.Interpolation)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		nodes:     make(map[Key]*node),
		retention: newRetention(cfg.RetainBytes),
		exec:      newExecutor(cfg.Workers),
		tileSize:  image.Pt(cfg.TileWidth, cfg.TileHeight),
		interp:    interp,
		decoder:   bitmap.FileDecoder{},
		alloc:     bitmap.HeapAllocator{},
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Component(c.logger, "imageop")

	c.logger.WithFields(log.Fields{
		"tile":    fmt.Sprintf("%dx%d", cfg.TileWidth, cfg.TileHeight),
		"workers": c.exec.workers,
		"retain":  cfg.RetainBytes,
	}).Debug("cache ready")
	return c, nil
}

// TileSize returns the configured tile size.
func (c *Cache) TileSize() image.Point {
	return c.tileSize
}

// Resolve returns a handle to the node for desc, creating it on first request.
// Concurrent calls with equal descriptors yield handles to the same node.
func (c *Cache) Resolve(desc Descriptor) (*Handle, error) {
	switch d := desc.(type) {
	case Load:
		return c.resolveLoad(d)
	case Scale:
		return c.resolveScale(d)
	case Tile:
		return c.resolveTile(d)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "unsupported descriptor %T", desc).WithComponent("imageop")
	}
}

func (c *Cache) resolveLoad(d Load) (*Handle, error) {
	if d.Path == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "load path is empty").WithComponent("imageop")
	}
	path := filepath.Clean(d.Path)
	key := loadKey(path)

	if h, ok, err := c.lookup(key, KindLoad); ok {
		return h, err
	}

	// header read happens outside the cache lock
	cfg, err := c.decoder.DecodeConfig(path)
	if err != nil {
		return nil, err
	}

	return c.insert(&node{key: key, kind: KindLoad, path: path, size: image.Pt(cfg.Width, cfg.Height)})
}

func (c *Cache) resolveScale(d Scale) (*Handle, error) {
	parent, err := c.parentNode(d.Parent)
	if err != nil {
		return nil, err
	}
	if !(d.Factor > 0) || math.IsInf(d.Factor, 0) {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "scale factor %v must be positive and finite", d.Factor).
			WithComponent("imageop")
	}

	key := scaleKey(parent.key, d.Factor)
	if h, ok, err := c.lookup(key, KindScale); ok {
		return h, err
	}
	return c.insert(&node{
		key:    key,
		kind:   KindScale,
		parent: parent,
		factor: d.Factor,
		size:   scaledSize(parent.size, d.Factor),
	})
}

func (c *Cache) resolveTile(d Tile) (*Handle, error) {
	parent, err := c.parentNode(d.Parent)
	if err != nil {
		return nil, err
	}
	grid, err := geometry.New(parent.size.X, parent.size.Y, c.tileSize.X, c.tileSize.Y)
	if err != nil {
		return nil, err
	}
	r, err := grid.Rect(d.X, d.Y)
	if err != nil {
		return nil, err
	}

	key := tileKey(parent.key, d.X, d.Y, r)
	if h, ok, err := c.lookup(key, KindTile); ok {
		return h, err
	}
	return c.insert(&node{
		key:    key,
		kind:   KindTile,
		parent: parent,
		tile:   image.Pt(d.X, d.Y),
		rect:   r,
		size:   r.Size(),
	})
}

// scaledSize rounds each axis and clamps it to at least one pixel.
func scaledSize(p image.Point, f float64) image.Point {
	w := int(math.Round(float64(p.X) * f))
	h := int(math.Round(float64(p.Y) * f))
	return image.Pt(max(w, 1), max(h, 1))
}

func (c *Cache) parentNode(h *Handle) (*node, error) {
	if h == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "parent handle is nil").WithComponent("imageop")
	}
	if h.cache != c {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "parent handle belongs to another cache").WithComponent("imageop")
	}
	if h.released.Load() {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "parent handle already released").WithComponent("imageop")
	}
	return h.node, nil
}

// lookup returns a handle to an existing node. ok is false when the key is absent.
func (c *Cache) lookup(key Key, kind Kind) (h *Handle, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, true, errShutdown()
	}
	n, found := c.nodes[key]
	if !found {
		return nil, false, nil
	}
	c.acquireLocked(n)
	c.hits.Add(1)
	c.recorder.RecordResolve(kind.String(), true)
	return newHandle(c, n), true, nil
}

// insert registers n unless a racing resolve got there first, in which case
// the existing node wins.
func (c *Cache) insert(n *node) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errShutdown()
	}
	if existing, found := c.nodes[n.key]; found {
		c.acquireLocked(existing)
		c.hits.Add(1)
		c.recorder.RecordResolve(n.kind.String(), true)
		return newHandle(c, existing), nil
	}

	if n.parent != nil {
		if !c.liveLocked(n.parent) {
			return nil, errors.NewError(errors.ErrCodeInvalidArgument, "parent handle already released").WithComponent("imageop")
		}
		c.acquireLocked(n.parent)
	}
	n.refs = 1
	c.nodes[n.key] = n
	c.misses.Add(1)
	c.recorder.RecordResolve(n.kind.String(), false)
	c.recorder.SetLiveNodes(len(c.nodes))

	c.logger.WithFields(log.Fields{"kind": n.kind.String(), "key": n.key.Short(), "size": n.size}).Debug("node registered")
	return newHandle(c, n), nil
}

// liveLocked reports whether n is registered and still referenced.
func (c *Cache) liveLocked(n *node) bool {
	return n.refs > 0 && c.nodes[n.key] == n
}

func (c *Cache) acquireLocked(n *node) {
	if n.retained != nil {
		c.retention.remove(n)
		c.recorder.SetRetainedBytes(c.retention.size())
	}
	n.refs++
}

func (c *Cache) release(n *node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(n)
}

func (c *Cache) releaseLocked(n *node) {
	n.refs--
	if n.refs > 0 {
		return
	}
	if n.refs < 0 {
		panic("imageop: node reference count below zero")
	}

	if !c.closed && c.retention.enabled() {
		if b := n.cached(); b != nil {
			for _, evicted := range c.retention.push(n, b.Bytes()) {
				c.removeLocked(evicted)
			}
			c.recorder.SetRetainedBytes(c.retention.size())
			return
		}
	}
	c.removeLocked(n)
}

// removeLocked unregisters an unreferenced node and releases its parent.
func (c *Cache) removeLocked(n *node) {
	if cur, ok := c.nodes[n.key]; ok && cur == n {
		delete(c.nodes, n.key)
	}
	n.clear()
	c.recorder.SetLiveNodes(len(c.nodes))
	if n.parent != nil {
		c.releaseLocked(n.parent)
	}
}

// ClearAll drops every cached bitmap and empties the retention list. Node
// identities survive; the next Materialize recomputes. Computations already
// running still deliver their result to waiters but do not store it.
// It returns the number of bitmaps dropped.
func (c *Cache) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for _, n := range c.nodes {
		if n.clear() {
			dropped++
		}
	}
	retained := c.retention.drain()
	for _, n := range retained {
		c.removeLocked(n)
	}

	c.clears.Add(1)
	c.clearedBitmaps.Add(uint64(dropped))
	c.recorder.RecordClear(dropped)
	c.recorder.SetRetainedBytes(0)
	c.logger.WithFields(log.Fields{"dropped": dropped, "unretained": len(retained)}).Debug("cache cleared")
	return dropped
}

// Close cancels pending computations, drops the retention list and rejects
// further resolves. It is safe to call more than once.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.exec.close()

	c.mu.Lock()
	for _, n := range c.retention.drain() {
		c.removeLocked(n)
	}
	c.recorder.SetRetainedBytes(0)
	c.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	live, retained, retainedBytes := len(c.nodes), c.retention.len(), c.retention.size()
	c.mu.Unlock()

	return Stats{
		LiveNodes:      live,
		RetainedNodes:  retained,
		RetainedBytes:  retainedBytes,
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Computes:       c.computes.Load(),
		Failures:       c.failures.Load(),
		Cancelled:      c.cancelled.Load(),
		Clears:         c.clears.Load(),
		ClearedBitmaps: c.clearedBitmaps.Load(),
	}
}
