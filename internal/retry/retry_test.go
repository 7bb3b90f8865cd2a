package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestExecutor(policy Policy) (*Executor, *[]time.Duration) {
	executor := NewExecutor(policy, nil)

	var mu sync.Mutex
	delays := make([]time.Duration, 0)
	executor.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}
	return executor, &delays
}

func TestExecuteStopsAfterMaxAttempts(t *testing.T) {
	executor, _ := newTestExecutor(Policy{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: time.Second})

	calls := 0
	stageErr := errors.New("stage exploded")
	err := executor.Execute(context.Background(), func(context.Context, string, string, string) error {
		calls++
		return stageErr
	}, "job-1", "ns", "docs")

	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, stageErr) {
		t.Fatalf("expected the last stage error, got %v", err)
	}
}

func TestExecuteSucceedsWithoutRetry(t *testing.T) {
	executor, delays := newTestExecutor(Policy{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: time.Second})

	calls := 0
	err := executor.Execute(context.Background(), func(context.Context, string, string, string) error {
		calls++
		return nil
	}, "job-1", "ns", "docs")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if len(*delays) != 0 {
		t.Fatalf("expected no backoff sleeps, got %d", len(*delays))
	}
}

func TestExecuteRecoversOnLaterAttempt(t *testing.T) {
	executor, delays := newTestExecutor(Policy{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: time.Second})

	calls := 0
	err := executor.Execute(context.Background(), func(context.Context, string, string, string) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, "job-1", "ns", "docs")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(*delays) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(*delays))
	}
}

func TestBackoffGrowsAndIsCapped(t *testing.T) {
	executor, delays := newTestExecutor(Policy{
		MaxAttempts: 6,
		BackoffMin:  2 * time.Second,
		BackoffMax:  30 * time.Second,
	})

	err := executor.Execute(context.Background(), func(context.Context, string, string, string) error {
		return errors.New("always failing")
	}, "job-1", "ns", "docs")
	if err == nil {
		t.Fatal("expected an error from an always-failing stage")
	}

	recorded := *delays
	if len(recorded) != 5 {
		t.Fatalf("expected 5 backoff sleeps, got %d", len(recorded))
	}

	expected := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, delay := range recorded {
		if delay != expected[i] {
			t.Errorf("backoff %d: expected %s, got %s", i+1, expected[i], delay)
		}
		if i > 0 && delay < recorded[i-1] {
			t.Errorf("backoff %d decreased: %s < %s", i+1, delay, recorded[i-1])
		}
		if delay > 30*time.Second {
			t.Errorf("backoff %d exceeds cap: %s", i+1, delay)
		}
	}
}

func TestFatalErrorStopsRetries(t *testing.T) {
	executor, _ := newTestExecutor(Policy{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: time.Second})

	calls := 0
	cause := errors.New("missing precondition")
	err := executor.Execute(context.Background(), func(context.Context, string, string, string) error {
		calls++
		return Fatal(cause)
	}, "job-1", "ns", "docs")

	if calls != 1 {
		t.Fatalf("expected a single attempt for a fatal error, got %d", calls)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if !IsFatal(err) {
		t.Fatal("expected the returned error to keep the fatal marker")
	}
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	executor := NewExecutor(Policy{MaxAttempts: 3, BackoffMin: time.Hour, BackoffMax: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- executor.Execute(ctx, func(context.Context, string, string, string) error {
			calls++
			return errors.New("transient")
		}, "job-1", "ns", "docs")
	}()

	// The executor is asleep in its first backoff; cancel should wake it.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", calls)
	}
}

func TestFatalNilIsNil(t *testing.T) {
	if Fatal(nil) != nil {
		t.Fatal("Fatal(nil) must be nil")
	}
	if IsFatal(errors.New("plain")) {
		t.Fatal("plain errors must not be fatal")
	}
}
