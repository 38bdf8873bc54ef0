package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncScheduler_StartStop(t *testing.T) {
	sched := NewSyncScheduler(nil, "*/5 * * * *", func(reason string) error { return nil })

	require.NoError(t, sched.Start(context.Background()))
	assert.True(t, sched.IsRunning())

	next := sched.NextRunTime()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()))

	sched.Stop()
	assert.False(t, sched.IsRunning())
	assert.Nil(t, sched.NextRunTime())
}

func TestSyncScheduler_StartTwiceIsNoop(t *testing.T) {
	sched := NewSyncScheduler(nil, "*/5 * * * *", func(reason string) error { return nil })

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Start(context.Background()))
	sched.Stop()
}

func TestSyncScheduler_InvalidSchedule(t *testing.T) {
	sched := NewSyncScheduler(nil, "not a schedule", func(reason string) error { return nil })

	err := sched.Start(context.Background())
	require.Error(t, err)
	assert.False(t, sched.IsRunning())
}

func TestSyncScheduler_RunNow(t *testing.T) {
	var reason string
	sched := NewSyncScheduler(nil, "*/5 * * * *", func(r string) error {
		reason = r
		return nil
	})

	require.NoError(t, sched.RunNow())
	assert.Equal(t, "manual", reason)
}

func TestSyncScheduler_ContextCancelStops(t *testing.T) {
	sched := NewSyncScheduler(nil, "*/5 * * * *", func(reason string) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(ctx))

	cancel()

	assert.Eventually(t, func() bool {
		return !sched.IsRunning()
	}, 2*time.Second, 10*time.Millisecond)
}
