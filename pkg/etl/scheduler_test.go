package etl

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSchedule(t *testing.T) {
	assert.Equal(t, "*/5 * * * *", ResolveSchedule("every-5-min"))
	assert.Equal(t, "0 2 * * *", ResolveSchedule("daily"))
	assert.Equal(t, "0 2 * * 0", ResolveSchedule("weekly"))
	assert.Equal(t, "30 4 * * 1", ResolveSchedule("30 4 * * 1"), "raw expressions pass through")
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	p := newTestPipeline(fullSyncPages(), store, testETLConfig())
	return NewScheduler(p, testLogger()), store
}

func TestScheduler_Schedule(t *testing.T) {
	t.Run("registers job", func(t *testing.T) {
		s, _ := newTestScheduler(t)
		require.NoError(t, s.Schedule("nightly", "daily", ModeFull))
		assert.Equal(t, 1, s.JobCount())
	})

	t.Run("rescheduling replaces the entry", func(t *testing.T) {
		s, _ := newTestScheduler(t)
		require.NoError(t, s.Schedule("nightly", "daily", ModeFull))
		require.NoError(t, s.Schedule("nightly", "hourly", ModeIncremental))
		assert.Equal(t, 1, s.JobCount())
	})

	t.Run("invalid expression", func(t *testing.T) {
		s, _ := newTestScheduler(t)
		err := s.Schedule("bad", "not a cron expr", ModeFull)
		require.Error(t, err)
		assert.Zero(t, s.JobCount())
	})
}

func TestScheduler_RunNow(t *testing.T) {
	s, store := newTestScheduler(t)
	require.NoError(t, s.RunNow(context.Background(), ModeTest))
	assert.Len(t, store.statuses, 1)
}

func TestScheduler_SkipsOverlappingTick(t *testing.T) {
	s, store := newTestScheduler(t)

	guard := &atomic.Bool{}
	guard.Store(true) // simulate a run still in flight

	s.runJob("nightly", ModeFull, guard)
	assert.Empty(t, store.statuses, "overlapping tick must be skipped, not queued")

	guard.Store(false)
	s.runJob("nightly", ModeFull, guard)
	assert.Len(t, store.statuses, 1)
	assert.False(t, guard.Load(), "guard released after run")
}

func TestScheduler_StartStop(t *testing.T) {
	s, _ := newTestScheduler(t)
	require.NoError(t, s.Schedule("nightly", "daily", ModeFull))
	s.Start()
	s.StopAll()
}
