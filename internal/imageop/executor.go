package imageop

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// executor runs each computation on its own goroutine and bounds the number of
// compute steps in progress with a weighted semaphore. Goroutines wait for
// their dependencies before taking a slot, so a full pool never blocks on itself.
type executor struct {
	sem     *semaphore.Weighted
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inflight map[*Future]struct{}
}

func newExecutor(workers int) *executor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &executor{
		sem:      semaphore.NewWeighted(int64(workers)),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[*Future]struct{}),
	}
}

// start runs fn for f on a new goroutine. It reports false once the executor is closed.
func (e *executor) start(f *Future, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.inflight[f] = struct{}{}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.forget(f)
		fn()
	}()
	return true
}

func (e *executor) forget(f *Future) {
	e.mu.Lock()
	delete(e.inflight, f)
	e.mu.Unlock()
}

// acquire takes a compute slot, giving up when ctx ends.
func (e *executor) acquire(ctx context.Context) error {
	return e.sem.Acquire(ctx, 1)
}

func (e *executor) release() {
	e.sem.Release(1)
}

// close cancels every computation still in flight and waits for their goroutines.
func (e *executor) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pending := make([]*Future, 0, len(e.inflight))
	for f := range e.inflight {
		pending = append(pending, f)
	}
	e.mu.Unlock()

	e.cancel()
	for _, f := range pending {
		f.Cancel()
	}
	e.wg.Wait()
}
