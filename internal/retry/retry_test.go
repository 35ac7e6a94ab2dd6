package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoExhaustsPolicy(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoStopsEarly(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: time.Millisecond}, func(ctx context.Context, attempt int) error {
		calls++
		return Stop(errBoom)
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected a single attempt, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoHonoursCancellationDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	attempts, err := Do(ctx, Policy{MaxAttempts: 3, Delay: time.Hour}, func(ctx context.Context, attempt int) error {
		cancel()
		return errBoom
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("delay was not interrupted by cancellation")
	}
}

func TestDoZeroPolicyRunsOnce(t *testing.T) {
	attempts, err := Do(context.Background(), Policy{}, func(ctx context.Context, attempt int) error {
		return errBoom
	})
	if attempts != 1 || !errors.Is(err, errBoom) {
		t.Fatalf("expected one failed attempt, got attempts=%d err=%v", attempts, err)
	}
}
