package session

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/apex/log"

	"github.com/objectfs/imageop/pkg/errors"
	"github.com/objectfs/imageop/pkg/retry"
)

// Clearer drops cached bitmaps so that mapped scratch files can be deleted.
// imageop.Cache implements it.
type Clearer interface {
	ClearAll() int
}

// Shutdown reclaims the session directory. The first call does the work and
// later calls return its result. clearer may be nil.
//
// A failed reclaim returns RECLAIM_FAILED and leaves the store in
// StateReclaimFailed; the lock file has been removed by then, so the
// directory is swept by the next Store on the same root.
func (s *Store) Shutdown(ctx context.Context, clearer Clearer) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx, clearer)
	})
	return s.shutdownErr
}

func (s *Store) shutdown(ctx context.Context, clearer Clearer) error {
	s.mu.Lock()
	prev := s.state
	s.state = StateShuttingDown
	dir, lock := s.dir, s.lock
	s.mu.Unlock()

	if prev != StateSessionCreated {
		s.setState(StateReclaimed)
		return nil
	}

	logger := s.logger.WithField("dir", dir)
	// the lock goes first so the directory is stale from here on
	if err := removeLock(lock); err != nil {
		logger.WithError(err).Warn("cannot remove lock file")
	}

	rc := s.cfg.Reclaim
	r := retry.New(retry.Config{
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   2,
		Retryable:    func(error) bool { return true },
	}).
		WithMaxAttempts(retry.AttemptsWithin(rc.InitialDelay, rc.MaxDelay, 2)).
		WithDeadline(rc.Deadline).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			dropped := 0
			if clearer != nil {
				dropped = clearer.ClearAll()
			}
			runtime.GC()
			logger.WithError(err).WithFields(log.Fields{
				"attempt": attempt,
				"delay":   delay,
				"dropped": dropped,
			}).Debug("session delete failed, retrying")
		})

	start := time.Now()
	attempts := 0
	err := r.DoWithContext(ctx, func(context.Context) error {
		attempts++
		s.recorder.RecordReclaimAttempt()
		return s.reclaim(lock, dir)
	})
	if err != nil {
		s.setState(StateReclaimFailed)
		s.recorder.RecordReclaim("failed")
		rerr := errors.Wrap(errors.ErrCodeReclaimFailed, err, "session directory left for the next sweep").
			WithComponent("session").
			WithOperation("shutdown").
			WithDetail("dir", dir).
			WithDetail("attempts", attempts)
		logger.WithError(err).WithField("attempts", attempts).Error("session reclaim failed")
		return rerr
	}

	s.setState(StateReclaimed)
	s.recorder.RecordReclaim("reclaimed")
	logger.WithFields(log.Fields{"attempts": attempts, "elapsed": time.Since(start)}).Info("session reclaimed")
	return nil
}

// reclaim makes one deletion attempt and verifies nothing is left.
func (s *Store) reclaim(lock, dir string) error {
	if err := removeLock(lock); err != nil {
		return err
	}
	if err := s.remove(dir); err != nil {
		return err
	}
	_, err := os.Lstat(dir)
	switch {
	case err == nil:
		return errors.Newf(errors.ErrCodeReclaimFailed, "%s still present after delete", dir)
	case os.IsNotExist(err):
		return nil
	default:
		return err
	}
}

func removeLock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
