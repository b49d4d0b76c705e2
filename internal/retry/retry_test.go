package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestDoStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: time.Millisecond}, func(_ context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected ok, got %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 4, Delay: time.Millisecond}, func(context.Context, int) (int, error) {
		calls++
		return 0, errTransient
	})
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 4 {
		t.Fatalf("expected 4 attempts recorded, got %d", exhausted.Attempts)
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected last error to be wrapped")
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted match")
	}
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	policy := Policy{
		MaxAttempts: 10,
		Delay:       time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}
	_, err := Do(context.Background(), policy, func(context.Context, int) (int, error) {
		calls++
		return 0, fatal
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if err != fatal {
		t.Fatalf("expected the fatal error unchanged, got %v", err)
	}
}

func TestDoHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 50, Delay: time.Hour}, func(context.Context, int) (int, error) {
		calls++
		cancel()
		return 0, errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDoFixedDelay(t *testing.T) {
	var waits []time.Duration
	policy := Policy{
		MaxAttempts: 3,
		Delay:       2 * time.Millisecond,
		Notify: func(_ int, _ error, next time.Duration) {
			waits = append(waits, next)
		},
	}
	_, _ = Do(context.Background(), policy, func(context.Context, int) (int, error) {
		return 0, errTransient
	})
	if len(waits) != 2 {
		t.Fatalf("expected 2 waits between 3 attempts, got %d", len(waits))
	}
	for _, w := range waits {
		if w != 2*time.Millisecond {
			t.Fatalf("expected fixed 2ms delay, got %v", w)
		}
	}
}

func TestDoRejectsEmptyBudget(t *testing.T) {
	if _, err := Do(context.Background(), Policy{}, func(context.Context, int) (int, error) { return 1, nil }); err == nil {
		t.Fatal("expected error for zero attempts")
	}
}
