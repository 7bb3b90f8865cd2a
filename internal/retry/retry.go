package retry

import (
	"context"
	"errors"
	"log"
	"time"
)

// StageFn is the contract external pipeline collaborators implement. Side
// effects are the stage's responsibility and must tolerate at-least-once
// execution.
type StageFn func(ctx context.Context, jobID, namespace, domain string) error

// Policy bounds attempts and spaces them with exponential backoff.
type Policy struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffMin:  2 * time.Second,
		BackoffMax:  30 * time.Second,
	}
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks an error as non-retryable. Execute returns the wrapped error
// immediately without further attempts.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err carries the non-retryable marker.
func IsFatal(err error) bool {
	var fatal *fatalError
	return errors.As(err, &fatal)
}

// Executor runs stage functions under a bounded-attempt retry policy.
type Executor struct {
	policy Policy
	logger *log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewExecutor(policy Policy, logger *log.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BackoffMin <= 0 {
		policy.BackoffMin = 2 * time.Second
	}
	if policy.BackoffMax <= 0 {
		policy.BackoffMax = 30 * time.Second
	}
	return &Executor{
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Execute attempts the stage up to MaxAttempts times, sleeping
// min(BackoffMax, BackoffMin * 2^(attempt-1)) between failures. The error
// from the final attempt is returned as-is so callers can classify it.
// A Fatal-tagged error or a cancelled context stops retrying immediately.
func (e *Executor) Execute(ctx context.Context, stage StageFn, jobID, namespace, domain string) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = stage(ctx, jobID, namespace, domain)
		if lastErr == nil {
			return nil
		}
		if IsFatal(lastErr) {
			return lastErr
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.backoff(attempt)
		if e.logger != nil {
			e.logger.Printf(
				"stage attempt failed job_id=%s attempt=%d/%d backoff=%s err=%v",
				jobID, attempt, e.policy.MaxAttempts, delay, lastErr,
			)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.policy.BackoffMin
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.policy.BackoffMax {
			return e.policy.BackoffMax
		}
	}
	if delay > e.policy.BackoffMax {
		return e.policy.BackoffMax
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
