package session

import (
	"context"
	stderr "errors"
	"sync"

	"github.com/apex/log"

	"github.com/objectfs/imageop/internal/logging"
)

// Cache is what the lifecycle needs from the operation cache.
type Cache interface {
	Clearer
	Close() error
}

type hook struct {
	name string
	fn   func(context.Context) error
}

// Lifecycle tears the process down in order: the cache stops computing, the
// session is reclaimed with the cache as its clearer, then registered hooks
// run in reverse order. Construct one at process start and call Finalize from
// every exit path.
type Lifecycle struct {
	store  *Store
	cache  Cache
	logger log.Interface

	mu    sync.Mutex
	hooks []hook

	once sync.Once
	err  error
}

// NewLifecycle binds store and cache. Either may be nil.
func NewLifecycle(store *Store, cache Cache, logger log.Interface) *Lifecycle {
	return &Lifecycle{store: store, cache: cache, logger: logging.Component(logger, "lifecycle")}
}

// OnFinalize registers fn to run after the session is reclaimed.
func (l *Lifecycle) OnFinalize(name string, fn func(context.Context) error) {
	l.mu.Lock()
	l.hooks = append(l.hooks, hook{name: name, fn: fn})
	l.mu.Unlock()
}

// Finalize runs the teardown once and returns the joined errors of every
// step. Later calls return the same result.
func (l *Lifecycle) Finalize(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.finalize(ctx)
	})
	return l.err
}

func (l *Lifecycle) finalize(ctx context.Context) error {
	var errs []error

	var clearer Clearer
	if l.cache != nil {
		if err := l.cache.Close(); err != nil {
			l.logger.WithError(err).Warn("cache close failed")
			errs = append(errs, err)
		}
		clearer = l.cache
	}

	if l.store != nil {
		// reclaim failures are already logged by the store
		if err := l.store.Shutdown(ctx, clearer); err != nil {
			errs = append(errs, err)
		}
	}

	l.mu.Lock()
	hooks := l.hooks
	l.hooks = nil
	l.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(ctx); err != nil {
			l.logger.WithError(err).WithField("hook", h.name).Warn("finalize hook failed")
			errs = append(errs, err)
		}
	}

	l.logger.Debug("finalized")
	return stderr.Join(errs...)
}
