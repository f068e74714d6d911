package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_succeedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_fatalErrorStopsImmediately(t *testing.T) {
	attempts := 0
	sentinel := errors.New("config error")
	policy := Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		Classifier: func(err error) Classification {
			if errors.Is(err, sentinel) {
				return Fatal
			}
			return Transient
		},
	}
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (fatal stops immediately)", attempts)
	}
}

func TestDo_exhaustsMaxAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_contextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, Policy{MaxAttempts: 100, InitialBackoff: 5 * time.Millisecond}, func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("keeps failing")
	})
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if attempts > 4 {
		t.Errorf("attempts = %d, expected retrying to stop shortly after cancellation", attempts)
	}
}
