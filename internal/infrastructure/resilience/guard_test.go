package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"LectureNotes/internal/config"
	"LectureNotes/internal/domain"
)

func testPolicy() Policy {
	return Policy{
		Retry: config.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		Breaker: config.BreakerConfig{
			MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 100, FailureRatio: 1,
		},
		Timeout: time.Second,
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g := NewGuard("stt", testPolicy(), nil)
	got, err := Do(context.Background(), g, func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Do = %q, %v", got, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g := NewGuard("stt", testPolicy(), nil)
	_, err := Do(context.Background(), g, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("still down")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g := NewGuard("vision", testPolicy(), nil)
	_, err := Do(context.Background(), g, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, Permanent(errors.New("400 bad request"))
	})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent error was retried %d times", calls.Load())
	}
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.Retry.MaxAttempts = 2
	p.Timeout = 20 * time.Millisecond
	g := NewGuard("summary", p, nil)

	start := time.Now()
	_, err := Do(context.Background(), g, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("attempt timeout not applied")
	}
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.Retry.MaxAttempts = 1
	p.Breaker.MinRequests = 2
	p.Breaker.FailureRatio = 0.5
	g := NewGuard("stt", p, nil)

	var calls atomic.Int32
	op := func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("down")
	}
	for range 2 {
		_, _ = Do(context.Background(), g, op)
	}
	_, err := Do(context.Background(), g, op)
	if err == nil || calls.Load() != 2 {
		t.Fatalf("breaker should reject without calling backend: err=%v calls=%d", err, calls.Load())
	}
}

type flakyTranscriber struct {
	err error
}

func (f flakyTranscriber) Transcribe(context.Context, []byte) ([]domain.Segment, error) {
	return nil, f.err
}

func TestTranscriberClassifiesFailure(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.Retry.MaxAttempts = 1
	tr := NewTranscriber(flakyTranscriber{err: errors.New("boom")}, NewGuard("stt", p, nil))
	if _, err := tr.Transcribe(context.Background(), []byte("x")); !errors.Is(err, domain.ErrTranscription) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
}
