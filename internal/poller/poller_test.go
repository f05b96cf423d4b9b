package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSession_ImmediateFirstFetch(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := Start(context.Background(), Config{Name: "test", Interval: time.Hour, Immediate: true},
		func(context.Context) (bool, error) {
			calls.Add(1)
			return false, nil
		}, discardLogger())
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_WaitsForIntervalWithoutImmediate(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := Start(context.Background(), Config{Name: "test", Interval: time.Hour},
		func(context.Context) (bool, error) {
			calls.Add(1)
			return false, nil
		}, discardLogger())

	time.Sleep(30 * time.Millisecond)
	s.Stop()
	assert.Zero(t, calls.Load())
}

func TestSession_NoOverlap(t *testing.T) {
	t.Parallel()
	var inFlight, maxInFlight, calls atomic.Int32
	s := Start(context.Background(), Config{Name: "slow", Interval: time.Millisecond, Immediate: true},
		func(context.Context) (bool, error) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			inFlight.Add(-1)
			return calls.Add(1) >= 4, nil
		}, discardLogger())

	require.NoError(t, s.Wait())
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, 4, s.Fetches())
}

func TestSession_DoneStops(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := Start(context.Background(), Config{Name: "detail", Interval: time.Millisecond, Immediate: true},
		func(context.Context) (bool, error) {
			return calls.Add(1) == 3, nil
		}, discardLogger())

	require.NoError(t, s.Wait())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "no fetch after done")
}

func TestSession_MaxAttempts(t *testing.T) {
	t.Parallel()
	s := Start(context.Background(), Config{Name: "confirm", Interval: time.Millisecond, Immediate: true, MaxAttempts: 5},
		func(context.Context) (bool, error) {
			return false, nil
		}, discardLogger())

	err := s.Wait()
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 5, s.Fetches())
}

func TestSession_MaxAttemptsCountsFailures(t *testing.T) {
	t.Parallel()
	s := Start(context.Background(), Config{Name: "confirm", Interval: time.Millisecond, Immediate: true, MaxAttempts: 3},
		func(context.Context) (bool, error) {
			return false, errors.New("transient")
		}, discardLogger())

	assert.ErrorIs(t, s.Wait(), ErrExhausted)
	assert.Equal(t, 3, s.Fetches())
}

func TestSession_StopOnFatal(t *testing.T) {
	t.Parallel()
	fatal := errors.New("session expired")
	transient := errors.New("connection reset")
	var calls atomic.Int32
	s := Start(context.Background(), Config{
		Name:      "list",
		Interval:  time.Millisecond,
		Immediate: true,
		StopOn:    func(err error) bool { return errors.Is(err, fatal) },
	}, func(context.Context) (bool, error) {
		if calls.Add(1) < 3 {
			return false, transient
		}
		return false, fatal
	}, discardLogger())

	err := s.Wait()
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, int32(3), calls.Load(), "transient errors keep polling")
}

func TestSession_Kick(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := Start(context.Background(), Config{Name: "list", Interval: time.Hour},
		func(context.Context) (bool, error) {
			calls.Add(1)
			return false, nil
		}, discardLogger())
	t.Cleanup(s.Stop)

	assert.True(t, s.Kick())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_KickSkippedWhileInFlight(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s := Start(context.Background(), Config{Name: "list", Interval: time.Hour, Immediate: true},
		func(context.Context) (bool, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return false, nil
		}, discardLogger())
	t.Cleanup(s.Stop)

	<-entered
	assert.False(t, s.Kick(), "kick during a fetch is skipped")
	close(release)

	require.Eventually(t, func() bool { return s.Fetches() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSession_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := Start(context.Background(), Config{Name: "list", Interval: 5 * time.Millisecond, Immediate: true},
		func(context.Context) (bool, error) {
			calls.Add(1)
			return false, nil
		}, discardLogger())

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()
	after := calls.Load()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no fetch after Stop")
	assert.NoError(t, s.Err())
	assert.False(t, s.Kick())
}

func TestSession_ContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	s := Start(ctx, Config{Name: "list", Interval: time.Hour}, func(context.Context) (bool, error) {
		return false, nil
	}, discardLogger())

	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not end on context cancellation")
	}
	assert.NoError(t, s.Err())
}

func TestSession_StopCancelsInFlightFetch(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	s := Start(context.Background(), Config{Name: "detail", Interval: time.Hour, Immediate: true},
		func(ctx context.Context) (bool, error) {
			close(entered)
			<-ctx.Done()
			return false, ctx.Err()
		}, discardLogger())

	<-entered
	s.Stop()
	assert.NoError(t, s.Err())
	assert.Equal(t, 1, s.Fetches())
}

func TestEnded(t *testing.T) {
	s := Ended()
	require.NoError(t, s.Wait())
	assert.False(t, s.Kick())
	assert.Equal(t, 0, s.Fetches())
	s.Stop()
}
