package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"LectureNotes/internal/config"
	"LectureNotes/internal/logging"
)

// Policy bundles retry, breaker and per-attempt timeout settings.
type Policy struct {
	Retry   config.RetryConfig
	Breaker config.BreakerConfig
	Timeout time.Duration
}

// Guard runs backend calls with bounded retries behind a circuit breaker.
type Guard struct {
	name    string
	policy  Policy
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// NewGuard builds a guard named after the backend it protects.
func NewGuard(name string, policy Policy, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = logging.Discard()
	}
	if policy.Retry.MaxAttempts == 0 {
		policy.Retry.MaxAttempts = 1
	}
	logger = logger.With("backend", name)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: policy.Breaker.MaxRequests,
		Interval:    policy.Breaker.Interval,
		Timeout:     policy.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < policy.Breaker.MinRequests || counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= policy.Breaker.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	}

	return &Guard{
		name:    name,
		policy:  policy,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Name returns the protected backend name.
func (g *Guard) Name() string {
	return g.name
}

// Do runs op until it succeeds, fails permanently, runs out of attempts or
// ctx is done. Each attempt gets its own timeout.
func Do[T any](ctx context.Context, g *Guard, op func(context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		var zero T

		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}

		out, err := g.breaker.Execute(func() (interface{}, error) {
			actx, cancel := g.attemptContext(ctx)
			defer cancel()

			v, err := op(actx)
			if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%s attempt timed out after %s: %w", g.name, g.policy.Timeout, err)
			}
			return v, err
		})
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return zero, backoff.Permanent(ctx.Err())
			case IsPermanent(err):
				return zero, backoff.Permanent(err)
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return zero, backoff.Permanent(fmt.Errorf("%s unavailable: %w", g.name, err))
			}
			g.logger.Debug("backend attempt failed", "attempt", attempt, "error", err)
			return zero, err
		}

		v, _ := out.(T)
		return v, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.policy.Retry.InitialInterval
	policy.MaxInterval = g.policy.Retry.MaxInterval

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(g.policy.Retry.MaxAttempts),
	)
}

func (g *Guard) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.policy.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.policy.Timeout)
}
