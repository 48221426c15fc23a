package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"testing"
	"time"

	"github.com/objectfs/imageop/pkg/errors"
)

func TestRetryer_Success(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	err := retryer.DoWithContext(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	err := retryer.DoWithContext(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeReclaimFailed, "directory busy")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeComputeFailed, "decode failed")

	err := retryer.DoWithContext(context.Background(), func(context.Context) error {
		attempts++
		return testErr
	})

	if err != testErr {
		t.Errorf("Expected the original error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_RetryablePredicate(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 4
	config.Retryable = func(err error) bool { return true }
	retryer := New(config)

	attempts := 0
	err := retryer.DoWithContext(context.Background(), func(context.Context) error {
		attempts++
		return fmt.Errorf("plain failure %d", attempts)
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeReclaimFailed, "directory busy")

	err := retryer.DoWithContext(context.Background(), func(context.Context) error {
		attempts++
		return testErr
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	if !stderr.Is(err, errors.ErrReclaimFailed) {
		t.Errorf("Expected wrapped reclaim failure, got %v", err)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = 100 * time.Millisecond
	config.MaxDelay = time.Second
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeReclaimFailed, "busy")
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if !stderr.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}

	if attempts >= 10 {
		t.Errorf("Expected fewer than 10 attempts due to cancellation, got %d", attempts)
	}
}

func TestRetryer_Deadline(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 100
	config.InitialDelay = 20 * time.Millisecond
	config.MaxDelay = 20 * time.Millisecond
	config.Deadline = 50 * time.Millisecond
	retryer := New(config)

	start := time.Now()
	err := retryer.DoWithContext(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeReclaimFailed, "busy")
	})

	if !stderr.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline in chain, got %v", err)
	}
	if !stderr.Is(err, errors.ErrReclaimFailed) {
		t.Errorf("Expected last error in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Deadline not honoured, took %v", elapsed)
	}
}

func TestRetryer_ExponentialBackoff(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 4
	config.InitialDelay = 10 * time.Millisecond
	config.MaxDelay = 1 * time.Second
	config.Multiplier = 2.0
	config.Jitter = false

	delays := []time.Duration{}
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	retryer := New(config)

	err := retryer.DoWithContext(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeReclaimFailed, "busy")
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}

	expectedDelays := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}

	if len(delays) != len(expectedDelays) {
		t.Fatalf("Expected %d delays, got %d", len(expectedDelays), len(delays))
	}

	for i, expected := range expectedDelays {
		if delays[i] != expected {
			t.Errorf("Delay %d: expected %v, got %v", i, expected, delays[i])
		}
	}
}

func TestRetryer_MaxDelayCap(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 6
	config.InitialDelay = 5 * time.Millisecond
	config.MaxDelay = 10 * time.Millisecond
	config.Multiplier = 2.0
	config.Jitter = false

	var maxDelay time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		if delay > maxDelay {
			maxDelay = delay
		}
	}

	retryer := New(config)

	_ = retryer.DoWithContext(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeReclaimFailed, "busy")
	})

	if maxDelay != config.MaxDelay {
		t.Errorf("Max delay %v, want configured max %v", maxDelay, config.MaxDelay)
	}
}

func TestAttemptsWithin(t *testing.T) {
	tests := []struct {
		name       string
		initial    time.Duration
		ceiling    time.Duration
		multiplier float64
		want       int
	}{
		{"reclaim schedule", time.Millisecond, 1024 * time.Millisecond, 2, 12},
		{"single step", time.Millisecond, time.Millisecond, 2, 2},
		{"ceiling below initial", 10 * time.Millisecond, time.Millisecond, 2, 1},
		{"flat multiplier", time.Millisecond, time.Second, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AttemptsWithin(tt.initial, tt.ceiling, tt.multiplier); got != tt.want {
				t.Errorf("AttemptsWithin() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3

	callbackCalled := 0
	var lastAttempt int
	var lastErr error
	var lastDelay time.Duration

	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbackCalled++
		lastAttempt = attempt
		lastErr = err
		lastDelay = delay
	}

	retryer := New(config)

	testErr := errors.NewError(errors.ErrCodeReclaimFailed, "busy")
	_ = retryer.DoWithContext(context.Background(), func(context.Context) error {
		return testErr
	})

	if callbackCalled != 2 {
		t.Errorf("Expected callback called 2 times, got %d", callbackCalled)
	}

	if lastAttempt != 2 {
		t.Errorf("Expected last attempt to be 2, got %d", lastAttempt)
	}

	if lastErr != testErr {
		t.Errorf("Expected last error to be testErr, got %v", lastErr)
	}

	if lastDelay <= 0 {
		t.Error("Expected positive delay")
	}
}

func TestRetryer_WithMethods(t *testing.T) {
	original := New(DefaultConfig())

	modified := original.WithMaxAttempts(10)
	if modified.Config().MaxAttempts != 10 {
		t.Errorf("Expected MaxAttempts=10, got %d", modified.Config().MaxAttempts)
	}
	if original.Config().MaxAttempts == 10 {
		t.Error("Original config was modified")
	}

	modified = original.WithDeadline(time.Minute)
	if modified.Config().Deadline != time.Minute {
		t.Errorf("Expected Deadline=1m, got %v", modified.Config().Deadline)
	}

	called := false
	modified = original.WithMaxAttempts(2).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		called = true
	})

	_ = modified.DoWithContext(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeReclaimFailed, "busy")
	})

	if !called {
		t.Error("OnRetry callback was not called")
	}
}

func TestRetryer_JitterVariance(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 6
	config.InitialDelay = 2 * time.Millisecond
	config.MaxDelay = time.Second
	config.Jitter = true

	delays := []time.Duration{}
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	retryer := New(config)

	_ = retryer.DoWithContext(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeReclaimFailed, "busy")
	})

	baseDelay := config.InitialDelay
	hasVariance := false

	for _, delay := range delays {
		if delay != baseDelay {
			hasVariance = true
			break
		}
		baseDelay = time.Duration(float64(baseDelay) * config.Multiplier)
	}

	if !hasVariance {
		t.Error("Expected jitter to create variance in delays")
	}
}

func BenchmarkRetryer_Success(b *testing.B) {
	retryer := New(DefaultConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = retryer.DoWithContext(context.Background(), func(context.Context) error {
			return nil
		})
	}
}

func ExampleRetryer() {
	retryer := New(DefaultConfig())

	attempts := 0
	err := retryer.DoWithContext(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeReclaimFailed, "still mapped")
		}
		return nil
	})

	fmt.Println(attempts, err)
	// Output: 3 <nil>
}
