package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return ctx.Err()
}

func TestRestartPolicy_Defaults(t *testing.T) {
	p := RestartPolicy(2*time.Second, 1)
	assert.Equal(t, "room-restart", p.Name)
	assert.Equal(t, 2*time.Second, p.GraceDelay)
	assert.Equal(t, 1, p.MaxAttempts)
}

func TestPolicy_WaitUsesGraceDelay(t *testing.T) {
	rec := &recordingSleep{}
	p := RestartPolicy(2*time.Second, 1)
	p.Sleep = rec.sleep

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.calls)
}

func TestPolicy_WaitZeroDelaySkipsSleep(t *testing.T) {
	rec := &recordingSleep{}
	p := Policy{Sleep: rec.sleep}

	require.NoError(t, p.Wait(context.Background()))
	assert.Empty(t, rec.calls)
}

func TestPolicy_DoSingleAttemptDoesNotRetry(t *testing.T) {
	rec := &recordingSleep{}
	p := RestartPolicy(time.Second, 1)
	p.Sleep = rec.sleep

	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return errTestError
	})

	assert.ErrorIs(t, err, errTestError)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.calls)
}

func TestPolicy_DoWaitsBetweenAttempts(t *testing.T) {
	rec := &recordingSleep{}
	p := RestartPolicy(time.Second, 3)
	p.Sleep = rec.sleep

	var seen []int
	err := p.Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errTestError
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Len(t, rec.calls, 2)
}

func TestPolicy_DoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RestartPolicy(time.Hour, 5)

	calls := 0
	err := p.Do(ctx, func(int) error {
		calls++
		cancel()
		return errTestError
	})

	assert.ErrorIs(t, err, errTestError)
	assert.Equal(t, 1, calls)
}
