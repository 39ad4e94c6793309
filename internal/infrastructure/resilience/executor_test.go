package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

var errFlaky = errors.New("flaky dependency")

func fastRetries(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		RetryJitterPercent:  50,
	}
}

func alwaysRetry(error) ErrorClassification {
	return ErrorClassification{Retryable: true, RecordFailure: true}
}

func TestExecuteRetryBudget(t *testing.T) {
	cases := []struct {
		name         string
		maxAttempts  int
		failFirst    int
		classify     func(error) ErrorClassification
		wantAttempts int
		wantErr      bool
	}{
		{name: "recovers within budget", maxAttempts: 3, failFirst: 2, classify: alwaysRetry, wantAttempts: 3},
		{name: "gives up at budget", maxAttempts: 2, failFirst: 5, classify: alwaysRetry, wantAttempts: 2, wantErr: true},
		{
			name:         "permanent error is not retried",
			maxAttempts:  3,
			failFirst:    5,
			classify:     func(error) ErrorClassification { return ErrorClassification{} },
			wantAttempts: 1,
			wantErr:      true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := NewExecutor(fastRetries(tc.maxAttempts))
			attempts := 0
			err := exec.Execute(context.Background(), "qdrant.upsert", func(context.Context) error {
				attempts++
				if attempts <= tc.failFirst {
					return errFlaky
				}
				return nil
			}, tc.classify)

			if attempts != tc.wantAttempts {
				t.Fatalf("attempts = %d, want %d", attempts, tc.wantAttempts)
			}
			if tc.wantErr && !errors.Is(err, errFlaky) {
				t.Fatalf("expected the last call error, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestBreakerOpensPerOperation(t *testing.T) {
	cfg := fastRetries(1)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute
	exec := NewExecutor(cfg)

	countOnly := func(error) ErrorClassification { return ErrorClassification{RecordFailure: true} }
	for range 2 {
		_ = exec.Execute(context.Background(), "ollama.embed", func(context.Context) error { return errFlaky }, countOnly)
	}

	err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
		t.Fatalf("open breaker must short-circuit the call")
		return nil
	}, countOnly)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	// Other dependencies keep their own breaker.
	if err := exec.Execute(context.Background(), "qdrant.search", func(context.Context) error { return nil }, countOnly); err != nil {
		t.Fatalf("unrelated operation should pass, got %v", err)
	}
}

func TestNonRecordedFailuresKeepBreakerClosed(t *testing.T) {
	cfg := fastRetries(1)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	exec := NewExecutor(cfg)

	ignore := func(error) ErrorClassification { return ErrorClassification{} }
	for range 5 {
		_ = exec.Execute(context.Background(), "s3.get", func(context.Context) error { return errFlaky }, ignore)
	}
	called := false
	_ = exec.Execute(context.Background(), "s3.get", func(context.Context) error {
		called = true
		return nil
	}, ignore)
	if !called {
		t.Fatalf("breaker opened on failures that were not recorded")
	}
}

func TestExecuteHonorsCanceledContext(t *testing.T) {
	exec := NewExecutor(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if called {
		t.Fatalf("operation must not run on a canceled context")
	}
}

func TestNormalizeRepairsInvalidValues(t *testing.T) {
	got := Config{RetryInitialBackoff: time.Second, RetryMultiplier: 0.5, RetryJitterPercent: 400, BreakerFailureRatio: 3}.normalize()
	if got.RetryMaxAttempts != 3 || got.RetryMultiplier != 2 {
		t.Fatalf("expected default attempts and multiplier, got %+v", got)
	}
	if got.RetryMaxBackoff < got.RetryInitialBackoff {
		t.Fatalf("max backoff %v below initial %v", got.RetryMaxBackoff, got.RetryInitialBackoff)
	}
	if got.RetryJitterPercent != 100 || got.BreakerFailureRatio != 0.5 {
		t.Fatalf("expected clamped jitter and default ratio, got %+v", got)
	}

	negative := Config{RetryMaxAttempts: -2, RetryInitialBackoff: -time.Second, BreakerOpenTimeout: -time.Minute}.normalize()
	if negative.RetryMaxAttempts != 3 || negative.RetryInitialBackoff != 100*time.Millisecond || negative.BreakerOpenTimeout != 30*time.Second {
		t.Fatalf("expected negative values replaced by defaults, got %+v", negative)
	}
	if negative.RetryMaxBackoff != 400*time.Millisecond {
		t.Fatalf("expected default max backoff, got %v", negative.RetryMaxBackoff)
	}
}
