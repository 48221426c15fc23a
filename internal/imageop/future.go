package imageop

import (
	"context"
	"sync"
	"time"

	"github.com/objectfs/imageop/internal/bitmap"
	"github.com/objectfs/imageop/pkg/errors"
)

// Future is the eventual outcome of materializing an operation. Every waiter
// of the same computation observes the same bitmap or the same error.
type Future struct {
	done   chan struct{}
	once   sync.Once
	bitmap *bitmap.Bitmap
	err    error

	ctx      context.Context
	cancel   context.CancelFunc
	onCancel func(*Future)
}

func newFuture(parent context.Context, onCancel func(*Future)) *Future {
	ctx, cancel := context.WithCancel(parent)
	return &Future{done: make(chan struct{}), ctx: ctx, cancel: cancel, onCancel: onCancel}
}

func completedFuture(b *bitmap.Bitmap, err error) *Future {
	f := &Future{done: make(chan struct{})}
	f.complete(b, err)
	return f
}

// complete sets the outcome once and reports whether this call set it.
func (f *Future) complete(b *bitmap.Bitmap, err error) bool {
	set := false
	f.once.Do(func() {
		if b == nil && err == nil {
			err = errors.NewError(errors.ErrCodeInternalError, "computation produced no bitmap")
		}
		f.bitmap, f.err = b, err
		close(f.done)
		set = true
	})
	if set && f.cancel != nil {
		f.cancel()
	}
	return set
}

// Get waits for the outcome. If ctx ends first it returns INTERRUPTED wrapping
// the context error; the computation itself keeps running.
func (f *Future) Get(ctx context.Context) (*bitmap.Bitmap, error) {
	select {
	case <-f.done:
		return f.bitmap, f.err
	default:
	}
	select {
	case <-f.done:
		return f.bitmap, f.err
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeInterrupted, ctx.Err(), "wait interrupted").WithComponent("imageop")
	}
}

// GetTimeout waits at most d for the outcome.
func (f *Future) GetTimeout(d time.Duration) (*bitmap.Bitmap, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Get(ctx)
}

// Done is closed once the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without blocking; done is false while the computation runs.
func (f *Future) Result() (b *bitmap.Bitmap, done bool, err error) {
	select {
	case <-f.done:
		return f.bitmap, true, f.err
	default:
		return nil, false, nil
	}
}

// Cancel completes the future with CANCELLED and aborts its computation.
// Waiters of other computations, including the parents this one depends on,
// are not affected. A later Materialize of the same operation starts afresh.
// It reports whether the future was still pending.
func (f *Future) Cancel() bool {
	if !f.complete(nil, errors.NewError(errors.ErrCodeCancelled, "computation cancelled").WithComponent("imageop")) {
		return false
	}
	if f.onCancel != nil {
		f.onCancel(f)
	}
	return true
}

func (f *Future) context() context.Context {
	return f.ctx
}
