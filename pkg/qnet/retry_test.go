package qnet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.BackoffStep != 2*time.Second {
		t.Errorf("BackoffStep = %v, want 2s", config.BackoffStep)
	}
}

func TestRetryConfig_BackoffFor(t *testing.T) {
	tests := []struct {
		name     string
		config   RetryConfig
		attempt  int
		expected time.Duration
	}{
		{
			name:     "first failed attempt",
			config:   DefaultRetryConfig(),
			attempt:  1,
			expected: 2 * time.Second,
		},
		{
			name:     "second failed attempt",
			config:   DefaultRetryConfig(),
			attempt:  2,
			expected: 4 * time.Second,
		},
		{
			name:     "third failed attempt",
			config:   DefaultRetryConfig(),
			attempt:  3,
			expected: 6 * time.Second,
		},
		{
			name:     "custom step scales linearly",
			config:   RetryConfig{MaxAttempts: 3, BackoffStep: 10 * time.Millisecond},
			attempt:  3,
			expected: 30 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.backoffFor(tt.attempt)
			if result != tt.expected {
				t.Errorf("backoffFor(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

// fastRetryConfig keeps the linear progression but shrinks the step so
// timing tests stay quick.
func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BackoffStep: 20 * time.Millisecond}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	fn := func() (ErrorClass, error) {
		callCount++
		return "", nil
	}

	err := retryWithBackoff(ctx, fastRetryConfig(), zerolog.Nop(), "getPEList", fn)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	fn := func() (ErrorClass, error) {
		callCount++
		if callCount < 3 {
			return ErrorClassUpstreamGeneral, errors.New("temporary error")
		}
		return "", nil
	}

	start := time.Now()
	err := retryWithBackoff(ctx, fastRetryConfig(), zerolog.Nop(), "getPEList", fn)
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}

	// Two failed attempts wait step and 2*step before the third
	if duration < 60*time.Millisecond {
		t.Errorf("Expected at least 60ms of backoff, got %v", duration)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	testErr := errors.New("persistent error")
	fn := func() (ErrorClass, error) {
		callCount++
		return ErrorClassTransport, testErr
	}

	start := time.Now()
	err := retryWithBackoff(ctx, fastRetryConfig(), zerolog.Nop(), "getPEList", fn)
	duration := time.Since(start)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Expected ErrRetriesExhausted, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", callCount)
	}

	// Every failed attempt backs off, the last one included:
	// step + 2*step + 3*step = 120ms for a 20ms step
	if duration < 120*time.Millisecond {
		t.Errorf("Expected the full backoff progression (>= 120ms), got %v", duration)
	}
}

func TestRetryWithBackoff_TerminalFailureNoRetry(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	testErr := &UpstreamError{
		Endpoint:   "getPEList",
		ResultCode: "30",
		Class:      ErrorClassUpstreamSpecific,
	}
	fn := func() (ErrorClass, error) {
		callCount++
		return ErrorClassUpstreamSpecific, testErr
	}

	start := time.Now()
	err := retryWithBackoff(ctx, fastRetryConfig(), zerolog.Nop(), "getPEList", fn)
	duration := time.Since(start)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for specific codes), got %d", callCount)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("Terminal failures must not be reported as exhaustion")
	}

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("Expected *UpstreamError, got %T", err)
	}
	if upstreamErr.ResultCode != "30" {
		t.Errorf("ResultCode = %q, want %q", upstreamErr.ResultCode, "30")
	}

	// No backoff for terminal failures
	if duration > 15*time.Millisecond {
		t.Errorf("Terminal failure took %v, expected an immediate return", duration)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	fn := func() (ErrorClass, error) {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return ErrorClassTransport, errors.New("error")
	}

	err := retryWithBackoff(ctx, fastRetryConfig(), zerolog.Nop(), "getPEList", fn)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount >= 3 {
		t.Errorf("Expected fewer than 3 calls after cancellation, got %d", callCount)
	}
}

func TestRetryWithBackoff_LinearProgression(t *testing.T) {
	ctx := context.Background()

	timestamps := []time.Time{}
	fn := func() (ErrorClass, error) {
		timestamps = append(timestamps, time.Now())
		return ErrorClassUpstreamGeneral, errors.New("error")
	}

	_ = retryWithBackoff(ctx, fastRetryConfig(), zerolog.Nop(), "getPEList", fn)

	if len(timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(timestamps))
	}

	// With a 20ms step the waits are 20ms then 40ms; timers never fire
	// early, so the lower bounds are exact
	firstDelay := timestamps[1].Sub(timestamps[0])
	secondDelay := timestamps[2].Sub(timestamps[1])

	if firstDelay < 20*time.Millisecond {
		t.Errorf("First delay %v, want >= 20ms", firstDelay)
	}
	if secondDelay < 40*time.Millisecond {
		t.Errorf("Second delay %v, want >= 40ms", secondDelay)
	}
	if secondDelay <= firstDelay {
		t.Errorf("Backoff must grow: first %v, second %v", firstDelay, secondDelay)
	}
}
