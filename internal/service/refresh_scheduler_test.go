package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls int32
	err   error
}

func (c *countingRefresher) RefreshAll(ctx context.Context) (int, int, error) {
	atomic.AddInt32(&c.calls, 1)
	return 1, 0, c.err
}

func TestUntilNextMidnightUTC(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Duration
	}{
		{time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC), 30 * time.Minute},
		{time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), 24 * time.Hour},
		{time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC), 12 * time.Hour},
		{time.Date(2026, 3, 14, 18, 0, 0, 0, time.FixedZone("EST", -5*3600)), time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UntilNextMidnightUTC(tt.now), tt.now.String())
	}
}

func TestIntervalScheduler_RunsImmediatelyAndRepeats(t *testing.T) {
	r := &countingRefresher{}
	s := NewIntervalScheduler(r, 10*time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&r.calls) >= 3
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	after := atomic.LoadInt32(&r.calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&r.calls))
}

func TestScheduler_StartStopErrors(t *testing.T) {
	s := NewIntervalScheduler(&countingRefresher{}, time.Hour)

	assert.Error(t, s.Stop())
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())

	// restartable
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestDailyScheduler_WaitsForMidnight(t *testing.T) {
	r := &countingRefresher{}
	s := NewDailyScheduler(r)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Zero(t, atomic.LoadInt32(&r.calls))
}

func TestScheduler_StopsWithContext(t *testing.T) {
	r := &countingRefresher{err: errors.New("boom")}
	s := NewIntervalScheduler(r, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&r.calls) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not exit after cancel")
	}
	require.NoError(t, s.Stop())
}

func TestScheduler_RunOnce(t *testing.T) {
	r := &countingRefresher{}
	s := NewDailyScheduler(r)
	s.RunOnce(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&r.calls))
}
