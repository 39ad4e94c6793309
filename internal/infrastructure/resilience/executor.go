package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	if !e.cfg.BreakerEnabled {
		return e.executeWithRetry(ctx, op, fn, classifier)
	}

	breaker := e.circuitBreaker(op, classifier)
	_, err := breaker.Execute(func() (any, error) {
		return nil, e.executeWithRetry(ctx, op, fn, classifier)
	})
	return err
}

func (e *Executor) executeWithRetry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	maxAttempts := e.cfg.RetryMaxAttempts
	attempt := 0

	return retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !classifier(err).Retryable || attempt >= maxAttempts {
			return err
		}
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err,
		)
		return retry.RetryableError(err)
	})
}

// backoff grows by RetryMultiplier from RetryInitialBackoff and is capped at RetryMaxBackoff.
func (e *Executor) backoff() retry.Backoff {
	next := e.cfg.RetryInitialBackoff
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		wait := next
		next = time.Duration(float64(next) * e.cfg.RetryMultiplier)
		if next > e.cfg.RetryMaxBackoff {
			next = e.cfg.RetryMaxBackoff
		}
		return wait, false
	})
	b = retry.WithCappedDuration(e.cfg.RetryMaxBackoff, b)
	if e.cfg.RetryJitterPercent > 0 {
		b = retry.WithJitterPercent(e.cfg.RetryJitterPercent, b)
	}
	return retry.WithMaxRetries(uint64(e.cfg.RetryMaxAttempts-1), b)
}

func (e *Executor) circuitBreaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	cb, ok := e.breakers[operation]
	if !ok {
		cb = gobreaker.NewCircuitBreaker[any](e.breakerSettings(operation, classifier))
		e.breakers[operation] = cb
	}
	return cb
}

// breakerSettings trips once BreakerMinRequests calls were seen in the closed state and
// the recorded failure ratio reaches BreakerFailureRatio.
func (e *Executor) breakerSettings(operation string, classifier ErrorClassifier) gobreaker.Settings {
	minRequests, ratio := e.cfg.BreakerMinRequests, e.cfg.BreakerFailureRatio
	return gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minRequests && float64(c.TotalFailures) >= ratio*float64(c.Requests)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := slog.LevelInfo
			if to == gobreaker.StateOpen {
				level = slog.LevelWarn
			}
			slog.Log(context.Background(), level, "circuit_breaker_state_change",
				"operation", name, "from", from.String(), "to", to.String())
		},
	}
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}
