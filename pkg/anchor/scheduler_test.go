package anchor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_BacksOffAfterFailure(t *testing.T) {
	fail := true
	s, err := NewScheduler(SchedulerConfig{
		Interval:   100 * time.Millisecond,
		MaxBackoff: time.Second,
		Tick: func(context.Context) error {
			if fail {
				return errors.New("ledger unavailable")
			}
			return nil
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	var delays []time.Duration
	for range 4 {
		delays = append(delays, s.next(ctx))
	}
	for _, d := range delays {
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.Greater(t, delays[3], 100*time.Millisecond, "delay grows after repeated failures")

	fail = false
	assert.Equal(t, 100*time.Millisecond, s.next(ctx))
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	var ticks atomic.Int32
	s, err := NewScheduler(SchedulerConfig{
		Interval: 5 * time.Millisecond,
		Tick: func(context.Context) error {
			ticks.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewScheduler_RequiresTick(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{})
	assert.Error(t, err)
}
