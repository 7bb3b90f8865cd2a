package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnqueueRunsTaskAndCleansUp(t *testing.T) {
	reg := New(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	err := reg.Enqueue("doc1", func(context.Context) {
		close(started)
		<-release
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	<-started
	if count := reg.ActiveCount(); count != 1 {
		t.Fatalf("expected 1 active task, got %d", count)
	}

	close(release)
	waitFor(t, func() bool { return reg.ActiveCount() == 0 })
}

func TestEnqueueRejectsDuplicateJobID(t *testing.T) {
	reg := New(nil)

	release := make(chan struct{})
	defer close(release)

	if err := reg.Enqueue("doc1", func(context.Context) { <-release }); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := reg.Enqueue("doc1", func(context.Context) {}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestConcurrentEnqueueExactlyOneWins(t *testing.T) {
	reg := New(nil)

	release := make(chan struct{})
	defer close(release)

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- reg.Enqueue("doc1", func(context.Context) { <-release })
		}()
	}
	wg.Wait()
	close(results)

	successes, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyExists):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful enqueue, got %d", successes)
	}
	if conflicts != racers-1 {
		t.Fatalf("expected %d conflicts, got %d", racers-1, conflicts)
	}
}

func TestSameJobIDCanRunAgainAfterCompletion(t *testing.T) {
	reg := New(nil)

	if err := reg.Enqueue("doc1", func(context.Context) {}); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	waitFor(t, func() bool { return reg.ActiveCount() == 0 })

	if err := reg.Enqueue("doc1", func(context.Context) {}); err != nil {
		t.Fatalf("re-enqueue after completion failed: %v", err)
	}
}

func TestActiveTracksTaskLifetime(t *testing.T) {
	reg := New(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	if err := reg.Enqueue("doc1", func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	<-started
	if !reg.Active("doc1") {
		t.Fatal("expected doc1 to be active while its task runs")
	}
	if reg.Active("doc2") {
		t.Fatal("unknown job must not be active")
	}

	close(release)
	waitFor(t, func() bool { return !reg.Active("doc1") })
}

func TestShutdownCancelsRunningTasks(t *testing.T) {
	reg := New(nil)

	cancelled := make(chan struct{})
	err := reg.Enqueue("doc1", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reg.Shutdown(ctx)

	select {
	case <-cancelled:
	default:
		t.Fatal("task did not observe cancellation before Shutdown returned")
	}

	if err := reg.Enqueue("doc2", func(context.Context) {}); err == nil {
		t.Fatal("expected enqueue to fail after shutdown")
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
