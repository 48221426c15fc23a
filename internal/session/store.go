package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/objectfs/imageop/internal/logging"
	"github.com/objectfs/imageop/pkg/errors"
	"github.com/objectfs/imageop/pkg/utils"
)

// State is the lifecycle position of a Store.
type State int

const (
	StateUninitialized State = iota
	StateSessionCreated
	StateShuttingDown
	StateReclaimed
	StateReclaimFailed
)

// String returns the string representation of a state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSessionCreated:
		return "session_created"
	case StateShuttingDown:
		return "shutting_down"
	case StateReclaimed:
		return "reclaimed"
	case StateReclaimFailed:
		return "reclaim_failed"
	default:
		return "unknown"
	}
}

// Config describes where sessions live and how they are reclaimed.
type Config struct {
	Root       string
	Prefix     string
	LockSuffix string
	Reclaim    ReclaimConfig
}

// ReclaimConfig bounds the shutdown deletion retries. The delay starts at
// InitialDelay and doubles; the protocol gives up once the next delay would
// exceed MaxDelay or Deadline has passed.
type ReclaimConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Deadline     time.Duration
}

// DefaultConfig returns a configuration rooted at root.
func DefaultConfig(root string) Config {
	return Config{
		Root:       root,
		Prefix:     "imageop-",
		LockSuffix: ".lck",
		Reclaim: ReclaimConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     1024 * time.Millisecond,
			Deadline:     10 * time.Second,
		},
	}
}

func (c *Config) validate() error {
	if c.Root == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "scratch root is empty").WithComponent("session")
	}
	if c.Prefix == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "session prefix is empty").WithComponent("session")
	}
	if err := utils.ValidateName(c.Prefix); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid session prefix").WithComponent("session")
	}
	if c.LockSuffix == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "lock suffix is empty").WithComponent("session")
	}
	if err := utils.ValidateName(c.LockSuffix); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid lock suffix").WithComponent("session")
	}

	def := DefaultConfig(c.Root).Reclaim
	if c.Reclaim.InitialDelay <= 0 {
		c.Reclaim.InitialDelay = def.InitialDelay
	}
	if c.Reclaim.MaxDelay <= 0 {
		c.Reclaim.MaxDelay = def.MaxDelay
	}
	if c.Reclaim.Deadline <= 0 {
		c.Reclaim.Deadline = def.Deadline
	}
	return nil
}

// Recorder receives sweep and reclaim activity. metrics.Collector implements it.
type Recorder interface {
	RecordSweep(result string, n int)
	RecordReclaimAttempt()
	RecordReclaim(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSweep(string, int) {}
func (nopRecorder) RecordReclaimAttempt()   {}
func (nopRecorder) RecordReclaim(string)    {}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(s *Store) { s.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithRemover replaces the recursive delete used by sweeps and shutdown.
func WithRemover(fn func(path string) error) Option {
	return func(s *Store) { s.remove = fn }
}

// lockInfo is written into each lock file for operators.
type lockInfo struct {
	PID     int       `json:"pid"`
	Host    string    `json:"host"`
	Started time.Time `json:"started"`
}

// maxNameAttempts bounds retries when a generated session name is taken.
const maxNameAttempts = 8

// Store hands out scratch space inside the current session directory.
// It is safe for concurrent use.
type Store struct {
	cfg      Config
	logger   log.Interface
	recorder Recorder
	remove   func(path string) error

	mu    sync.Mutex
	state State
	name  string
	dir   string
	lock  string
	sweep SweepReport

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewStore creates the scratch root if needed and sweeps stale sessions.
// Sweep failures are logged and kept in LastSweep; they never fail construction.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Root = filepath.Clean(cfg.Root)

	s := &Store{
		cfg:      cfg,
		recorder: nopRecorder{},
		remove:   os.RemoveAll,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "session")

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSessionCreate, err, "cannot create scratch root").
			WithComponent("session").
			WithDetail("root", cfg.Root)
	}

	report := s.Sweep()
	s.mu.Lock()
	s.sweep = report
	s.mu.Unlock()
	return s, nil
}

// Root returns the scratch root.
func (s *Store) Root() string {
	return s.cfg.Root
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dir returns the session directory and whether it has been created.
func (s *Store) Dir() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir, s.state == StateSessionCreated
}

// LastSweep returns the report of the sweep run by NewStore.
func (s *Store) LastSweep() SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep
}

// EnsureSession returns the session directory, creating it and its lock file
// on first use.
func (s *Store) EnsureSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked()
}

func (s *Store) ensureLocked() (string, error) {
	switch s.state {
	case StateSessionCreated:
		return s.dir, nil
	case StateUninitialized:
	default:
		return "", errShutdown()
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := s.cfg.Prefix + uuid.NewString()
		lock := s.lockPath(name)
		dir := filepath.Join(s.cfg.Root, name)

		created, err := s.createLock(lock)
		if err != nil {
			return "", err
		}
		if !created {
			continue
		}

		if err := os.Mkdir(dir, 0o700); err != nil {
			_ = os.Remove(lock)
			if os.IsExist(err) {
				continue
			}
			return "", errors.Wrap(errors.ErrCodeSessionCreate, err, "cannot create session directory").
				WithComponent("session").
				WithDetail("dir", dir)
		}

		s.name, s.dir, s.lock = name, dir, lock
		s.state = StateSessionCreated
		s.logger.WithFields(log.Fields{"dir": dir}).Info("session created")
		return dir, nil
	}

	return "", errors.Newf(errors.ErrCodeSessionCreate, "no free session name after %d attempts", maxNameAttempts).
		WithComponent("session")
}

// createLock creates the lock file exclusively. It reports false if the name is taken.
func (s *Store) createLock(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeSessionCreate, err, "cannot create lock file").
			WithComponent("session").
			WithDetail("lock", path)
	}

	host, _ := os.Hostname()
	encErr := json.NewEncoder(f).Encode(lockInfo{PID: os.Getpid(), Host: host, Started: time.Now().UTC()})
	closeErr := f.Close()
	if encErr != nil || closeErr != nil {
		_ = os.Remove(path)
		cause := encErr
		if cause == nil {
			cause = closeErr
		}
		return false, errors.Wrap(errors.ErrCodeSessionCreate, cause, "cannot write lock file").
			WithComponent("session").
			WithDetail("lock", path)
	}
	return true, nil
}

// CreateDirectory creates name, which may contain separators, inside the
// session directory and returns its path.
func (s *Store) CreateDirectory(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.ensureLocked()
	if err != nil {
		return "", err
	}
	path, err := utils.SecureJoin(root, name)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodePathInvalid, err, "directory outside session").WithComponent("session")
	}
	if path == root {
		return "", errors.Newf(errors.ErrCodePathInvalid, "directory name %q names the session itself", name).
			WithComponent("session")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeAllocationFailed, err, "cannot create directory").
			WithComponent("session").
			WithOperation("create_directory").
			WithDetail("path", path)
	}
	return path, nil
}

// CreateFile creates a new uniquely named file prefix*suffix in the session
// directory. The caller owns the returned file.
func (s *Store) CreateFile(prefix, suffix string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.ensureLocked()
	if err != nil {
		return nil, err
	}
	for _, part := range []string{prefix, suffix} {
		if err := utils.ValidateName(part); err != nil || strings.Contains(part, "*") {
			return nil, errors.Newf(errors.ErrCodePathInvalid, "invalid file name part %q", part).
				WithComponent("session").
				WithCause(err)
		}
	}

	f, err := os.CreateTemp(root, prefix+"*"+suffix)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAllocationFailed, err, "cannot create file").
			WithComponent("session").
			WithOperation("create_file").
			WithDetail("prefix", prefix).
			WithDetail("suffix", suffix)
	}
	return f, nil
}

func (s *Store) lockPath(name string) string {
	return filepath.Join(s.cfg.Root, name+s.cfg.LockSuffix)
}

func errShutdown() error {
	return errors.NewError(errors.ErrCodeShutdownInProgress, "session store is shut down").WithComponent("session")
}
