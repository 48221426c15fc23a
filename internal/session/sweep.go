package session

import (
	stderr "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"github.com/objectfs/imageop/pkg/errors"
)

// SweepReport lists what a sweep did. Err joins every per-directory failure.
type SweepReport struct {
	Deleted []string `json:"deleted,omitempty"`
	Live    []string `json:"live,omitempty"`
	Failed  []string `json:"failed,omitempty"`
	Err     error    `json:"-"`
}

// Sweep deletes every session directory in the root that has no lock file.
// Each directory is handled independently; a failure is recorded and the
// sweep moves on.
func (s *Store) Sweep() SweepReport {
	var report SweepReport

	entries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		report.Err = errors.Wrap(errors.ErrCodeSweepFailed, err, "cannot list scratch root").
			WithComponent("session").
			WithDetail("root", s.cfg.Root)
		s.logger.WithError(report.Err).Warn("sweep skipped")
		return report
	}

	s.mu.Lock()
	own := s.name
	s.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, s.cfg.Prefix) || name == own {
			continue
		}
		dir := filepath.Join(s.cfg.Root, name)

		_, err := os.Lstat(s.lockPath(name))
		switch {
		case err == nil:
			report.Live = append(report.Live, dir)
			continue
		case !os.IsNotExist(err):
			// an unreadable lock counts as present
			report.Live = append(report.Live, dir)
			s.logger.WithError(err).WithField("dir", dir).Warn("cannot stat lock file, keeping session")
			continue
		}

		if err := s.remove(dir); err != nil {
			report.Failed = append(report.Failed, dir)
			errs = append(errs, errors.Wrap(errors.ErrCodeSweepFailed, err, "cannot delete stale session").
				WithComponent("session").
				WithDetail("dir", dir))
			s.logger.WithError(err).WithField("dir", dir).Warn("stale session not deleted")
			continue
		}
		report.Deleted = append(report.Deleted, dir)
		s.logger.WithField("dir", dir).Debug("stale session deleted")
	}
	report.Err = stderr.Join(errs...)

	s.recorder.RecordSweep("deleted", len(report.Deleted))
	s.recorder.RecordSweep("failed", len(report.Failed))
	if len(report.Deleted) > 0 || len(report.Failed) > 0 {
		s.logger.WithFields(log.Fields{
			"deleted": len(report.Deleted),
			"failed":  len(report.Failed),
			"live":    len(report.Live),
		}).Info("stale sessions swept")
	}
	return report
}
