package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	res, err := Do(context.Background(), 3, Fixed(0), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, res)
	require.Equal(t, 3, attempts)
}

func TestDo_Exhausted(t *testing.T) {
	transient := errors.New("transient")
	attempts := 0
	_, err := Do(context.Background(), 4, Fixed(0), func() (int, error) {
		attempts++
		return 0, transient
	})
	require.Equal(t, 4, attempts)
	require.True(t, Exhausted(err))
	require.ErrorIs(t, err, transient)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	notDeployed := errors.New("not deployed")
	attempts := 0
	err := Do0(context.Background(), 5, Fixed(time.Hour), func() error {
		attempts++
		return Permanent(notDeployed)
	})
	require.Equal(t, 1, attempts)
	require.ErrorIs(t, err, notDeployed)
	require.True(t, IsPermanent(err))
	require.False(t, Exhausted(err))
}

func TestDo_ZeroAttempts(t *testing.T) {
	_, err := Do(context.Background(), 0, Fixed(0), func() (int, error) { return 1, nil })
	require.Error(t, err)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := Do(ctx, 3, Fixed(time.Hour), func() (int, error) {
		attempts++
		cancel()
		return 0, errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestExponentialStrategy_Capped(t *testing.T) {
	s := &ExponentialStrategy{Min: time.Second, Max: 5 * time.Second}
	require.Equal(t, 2*time.Second, s.Duration(0))
	require.Equal(t, 3*time.Second, s.Duration(1))
	require.Equal(t, 5*time.Second, s.Duration(10))
}
