package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy is a named settle-then-act policy: wait GraceDelay, try the
// operation, and repeat the wait between at most MaxAttempts tries.
// It exists for races against eventually consistent services where the
// wait is a heuristic, not a synchronization point.
type Policy struct {
	Name        string
	GraceDelay  time.Duration
	MaxAttempts int

	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RestartPolicy is the delete-then-recreate policy used for room restarts.
func RestartPolicy(grace time.Duration, maxAttempts int) Policy {
	return Policy{
		Name:        "room-restart",
		GraceDelay:  grace,
		MaxAttempts: maxAttempts,
	}
}

// Wait sleeps for the grace delay or until ctx is done.
func (p Policy) Wait(ctx context.Context) error {
	if p.GraceDelay <= 0 {
		return ctx.Err()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, p.GraceDelay)
}

// Do runs fn up to MaxAttempts times with the grace delay between tries.
// The first try runs immediately; callers that need a settle period before
// the first try call Wait themselves.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := p.Wait(ctx); err != nil {
				return fmt.Errorf("%s: cancelled after %d attempts: %w", p.Name, attempt-1, lastErr)
			}
		}
		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
