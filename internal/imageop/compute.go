package imageop

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/objectfs/imageop/internal/bitmap"
	"github.com/objectfs/imageop/pkg/errors"
)

// dependencyRetries bounds how often a computation re-requests a parent whose
// own computation was cancelled by another caller.
const dependencyRetries = 3

// materialize returns a completed future for a cached bitmap, the in-flight
// future if one exists, or schedules a new computation. A node that lost its
// last reference is rejected.
func (c *Cache) materialize(n *node) *Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked(n) {
		return completedFuture(nil, errReleased())
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.bitmap != nil {
		return completedFuture(n.bitmap, nil)
	}
	if n.pending != nil {
		return n.pending
	}
	if c.closed {
		return completedFuture(nil, errors.NewError(errors.ErrCodeCancelled, "cache closed").WithComponent("imageop"))
	}

	f := newFuture(c.exec.ctx, func(f *Future) {
		n.clearPending(f)
		c.logger.WithFields(log.Fields{"kind": n.kind.String(), "key": n.key.Short()}).Debug("computation cancelled")
	})
	gen := n.gen
	if !c.exec.start(f, func() { c.run(n, f, gen) }) {
		return completedFuture(nil, errors.NewError(errors.ErrCodeCancelled, "executor closed").WithComponent("imageop"))
	}
	n.refs++
	n.pending = f
	return f
}

// run executes one computation and publishes its outcome. The bitmap is
// stored only if no ClearAll happened since scheduling.
func (c *Cache) run(n *node, f *Future, gen uint64) {
	ctx := f.context()
	start := time.Now()

	b, err := c.safeCompute(ctx, n)
	if err != nil {
		err = c.classify(ctx, n, err)
		b = nil
	}

	n.mu.Lock()
	if err == nil && n.gen == gen {
		n.bitmap = b
	}
	if n.pending == f {
		n.pending = nil
	}
	n.mu.Unlock()

	f.complete(b, err)
	c.record(n, err, time.Since(start))
	c.release(n)
}

func (c *Cache) record(n *node, err error, d time.Duration) {
	status := "success"
	switch {
	case err == nil:
		c.computes.Add(1)
	case errors.CodeOf(err) == errors.ErrCodeCancelled:
		status = "cancelled"
		c.cancelled.Add(1)
	default:
		status = "failed"
		c.failures.Add(1)
		c.logger.WithError(err).WithFields(log.Fields{"kind": n.kind.String(), "key": n.key.Short()}).Warn("computation failed")
	}
	c.recorder.RecordCompute(n.kind.String(), status, d)
}

func (c *Cache) classify(ctx context.Context, n *node, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(errors.ErrCodeCancelled, ctx.Err(), "computation cancelled").WithComponent("imageop")
	}
	if errors.CodeOf(err) == errors.ErrCodeComputeFailed {
		return err
	}
	return errors.Wrap(errors.ErrCodeComputeFailed, err, fmt.Sprintf("%s %s", n.kind, n.key.Short())).
		WithComponent("imageop").
		WithOperation(n.kind.String())
}

func (c *Cache) safeCompute(ctx context.Context, n *node) (b *bitmap.Bitmap, err error) {
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = errors.Newf(errors.ErrCodeComputeFailed, "%s %s panicked: %v", n.kind, n.key.Short(), r).
				WithComponent("imageop").
				WithOperation(n.kind.String()).
				WithStack()
		}
	}()
	return c.compute(ctx, n)
}

func (c *Cache) compute(ctx context.Context, n *node) (*bitmap.Bitmap, error) {
	switch n.kind {
	case KindLoad:
		return c.computeLoad(ctx, n)
	case KindScale:
		return c.computeScale(ctx, n)
	case KindTile:
		return c.computeTile(ctx, n)
	default:
		return nil, errors.Newf(errors.ErrCodeInternalError, "unknown kind %d", n.kind)
	}
}

func (c *Cache) computeLoad(ctx context.Context, n *node) (*bitmap.Bitmap, error) {
	if err := c.exec.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.exec.release()

	b, err := c.decoder.Decode(n.path, c.alloc)
	if err != nil {
		return nil, err
	}
	if b.Size() != n.size {
		return nil, errors.Newf(errors.ErrCodeDecodeFailed, "image %s is %v, header reported %v", n.path, b.Size(), n.size).
			WithComponent("imageop")
	}
	return b, nil
}

func (c *Cache) computeScale(ctx context.Context, n *node) (*bitmap.Bitmap, error) {
	src, err := c.await(ctx, n.parent)
	if err != nil {
		return nil, err
	}

	if err := c.exec.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.exec.release()

	dst, err := c.alloc.Allocate(n.size.X, n.size.Y)
	if err != nil {
		return nil, err
	}
	bitmap.Scale(dst, src, c.interp)
	return dst, nil
}

func (c *Cache) computeTile(ctx context.Context, n *node) (*bitmap.Bitmap, error) {
	parent := n.parent

	// An uncomputed scale parent is skipped: the tile is resampled straight
	// from the grandparent region.
	if parent.kind == KindScale && parent.idle() {
		src, err := c.await(ctx, parent.parent)
		if err != nil {
			return nil, err
		}
		if err := c.exec.acquire(ctx); err != nil {
			return nil, err
		}
		defer c.exec.release()

		dst, err := c.alloc.Allocate(n.size.X, n.size.Y)
		if err != nil {
			return nil, err
		}
		if parent.size == src.Size() {
			bitmap.CopyRect(dst, src, n.rect)
		} else {
			bitmap.ScaleRegion(dst, src, parent.size, n.rect, c.interp)
		}
		return dst, nil
	}

	src, err := c.await(ctx, parent)
	if err != nil {
		return nil, err
	}
	if err := c.exec.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.exec.release()

	dst, err := c.alloc.Allocate(n.size.X, n.size.Y)
	if err != nil {
		return nil, err
	}
	bitmap.CopyRect(dst, src, n.rect)
	return dst, nil
}

// await materializes a dependency without holding a compute slot.
func (c *Cache) await(ctx context.Context, dep *node) (*bitmap.Bitmap, error) {
	for attempt := 0; ; attempt++ {
		b, err := c.materialize(dep).Get(ctx)
		if err == nil {
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.CodeOf(err) == errors.ErrCodeCancelled && attempt < dependencyRetries {
			continue
		}
		return nil, errors.Wrap(errors.ErrCodeComputeFailed, err, fmt.Sprintf("dependency %s %s failed", dep.kind, dep.key.Short())).
			WithComponent("imageop")
	}
}
