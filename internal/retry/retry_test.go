package retry_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sysadmin-ai/vmtest/internal/retry"
)

// tpolicy keeps waits in the microsecond range so the loops finish fast while
// staying deterministic (no jitter).
func tpolicy(attempts uint) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		Base:        time.Microsecond,
		Cap:         8 * time.Microsecond,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	var attempts int
	errFlaky := fmt.Errorf("not yet")

	got, err := retry.Do(t.Context(), tpolicy(10), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errFlaky
		}
		return "ready", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ready", got)
	require.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var attempts int
	errDown := fmt.Errorf("still down")

	_, err := retry.Do(t.Context(), tpolicy(4), func() (struct{}, error) {
		attempts++
		return struct{}{}, errDown
	})
	require.ErrorIs(t, err, errDown)
	require.Equal(t, 4, attempts)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	var attempts int
	errFatal := fmt.Errorf("invalid image")

	_, err := retry.Do(t.Context(), tpolicy(10), func() (struct{}, error) {
		attempts++
		return struct{}{}, retry.Permanent(errFatal)
	})
	require.ErrorIs(t, err, errFatal)
	require.Equal(t, 1, attempts)
}

func TestDo_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	var attempts int
	_, err := retry.Do(ctx, retry.Policy{Base: time.Millisecond, Cap: time.Millisecond}, func() (struct{}, error) {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return struct{}{}, fmt.Errorf("not yet")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.LessOrEqual(t, attempts, 3)
}

func TestDoNotify_BackoffShape(t *testing.T) {
	var waits []time.Duration
	errDown := fmt.Errorf("down")

	p := retry.Policy{
		MaxAttempts: 6,
		Base:        time.Microsecond,
		Cap:         4 * time.Microsecond,
	}
	_, err := retry.DoNotify(t.Context(), p, func() (struct{}, error) {
		return struct{}{}, errDown
	}, func(_ error, wait time.Duration) {
		waits = append(waits, wait)
	})
	require.ErrorIs(t, err, errDown)

	// One wait between each pair of attempts.
	require.Len(t, waits, 5)
	// Without jitter the waits double up to the cap and never decrease.
	for i := 1; i < len(waits); i++ {
		require.GreaterOrEqual(t, waits[i], waits[i-1])
		require.LessOrEqual(t, waits[i], p.Cap)
	}
	require.Equal(t, time.Microsecond, waits[0])
	require.Equal(t, 2*time.Microsecond, waits[1])
	require.Equal(t, 4*time.Microsecond, waits[2])
	require.Equal(t, 4*time.Microsecond, waits[3])
}

func TestDo_MaxElapsed(t *testing.T) {
	start := time.Now()
	errDown := fmt.Errorf("down")

	p := retry.Policy{
		Base:       time.Millisecond,
		Cap:        2 * time.Millisecond,
		MaxElapsed: 20 * time.Millisecond,
	}
	_, err := retry.Do(t.Context(), p, func() (struct{}, error) {
		return struct{}{}, errDown
	})
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}
