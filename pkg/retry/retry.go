// Package retry provides retry logic with exponential backoff
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/objectfs/imageop/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds up to ±20% randomness to each delay
	Jitter bool `yaml:"jitter" json:"jitter"`

	// Deadline bounds the total time spent across all attempts. Zero means no bound.
	Deadline time.Duration `yaml:"deadline" json:"deadline"`

	// RetryableErrors is a list of error codes that should trigger retry
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// Retryable overrides error classification when set
	Retryable func(err error) bool `yaml:"-" json:"-"`

	// OnRetry is called before each retry attempt, ahead of the delay
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the backoff used for scratch reclamation: 1ms doubling
// up to 1024ms, bounded to 10s overall.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  AttemptsWithin(time.Millisecond, 1024*time.Millisecond, 2.0),
		InitialDelay: time.Millisecond,
		MaxDelay:     1024 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
		Deadline:     10 * time.Second,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeReclaimFailed,
			errors.ErrCodeAllocationFailed,
			errors.ErrCodeInternalError,
		},
	}
}

// AttemptsWithin returns how many attempts fit a schedule whose delay starts at
// initial and grows by multiplier, stopping once the next delay would exceed ceiling.
func AttemptsWithin(initial, ceiling time.Duration, multiplier float64) int {
	if initial <= 0 || ceiling < initial || multiplier <= 1 {
		return 1
	}
	attempts := 1
	for d := float64(initial); d <= float64(ceiling); d *= multiplier {
		attempts++
	}
	return attempts
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}

	return &Retryer{config: config}
}

// Config returns a copy of the effective configuration.
func (r *Retryer) Config() Config {
	return r.config
}

// DoWithContext executes the given function with retry logic and context support
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	if r.config.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Deadline)
		defer cancel()
	}

	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("operation canceled after %d attempts: %w", attempt-1, stderr.Join(ctx.Err(), lastErr))
			}
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt >= r.config.MaxAttempts {
			break
		}
		if !r.shouldRetry(err) {
			return err
		}

		delay := r.calculateDelay(attempt)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, stderr.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

// shouldRetry determines if an error is retryable
func (r *Retryer) shouldRetry(err error) bool {
	if r.config.Retryable != nil {
		return r.config.Retryable(err)
	}

	var e *errors.Error
	if stderr.As(err, &e) {
		if e.Retryable {
			return true
		}
		for _, code := range r.config.RetryableErrors {
			if e.Code == code {
				return true
			}
		}
	}

	return false
}

// calculateDelay calculates the delay for the next retry attempt
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	// initialDelay * multiplier^(attempt-1)
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

// WithMaxAttempts returns a new Retryer with modified max attempts
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	newConfig := r.config
	newConfig.MaxAttempts = attempts
	return New(newConfig)
}

// WithDeadline returns a new Retryer with a modified overall deadline
func (r *Retryer) WithDeadline(d time.Duration) *Retryer {
	newConfig := r.config
	newConfig.Deadline = d
	return New(newConfig)
}

// WithOnRetry returns a new Retryer with a retry callback
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	newConfig := r.config
	newConfig.OnRetry = callback
	return New(newConfig)
}
