package capacity

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }

var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newRedisStore(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCounterStore(rdb), mr
}

func TestBucket(t *testing.T) {
	assert.Equal(t, "d:2026-03-02", Bucket(Day, monday))
	assert.Equal(t, "w:2026-W10", Bucket(Week, monday))
	assert.Equal(t, "m:2026-03", Bucket(Month, monday))
	// ISO week of Jan 1 2027 belongs to 2026.
	assert.Equal(t, "w:2026-W53", Bucket(Week, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
}

// counterStoreContract runs the same behavior checks against any CounterStore.
func counterStoreContract(t *testing.T, s CounterStore) {
	ctx := context.Background()

	c, err := s.Increment(ctx, "acme", "a1", monday)
	require.NoError(t, err)
	assert.Equal(t, store.AssignmentCounts{Daily: 1, Weekly: 1, Monthly: 1}, c)

	// Next day: new daily bucket, same week and month.
	c, err = s.Increment(ctx, "acme", "a1", monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, store.AssignmentCounts{Daily: 1, Weekly: 2, Monthly: 2}, c)

	counts, err := s.Counts(ctx, "acme", []string{"a1", "a2"}, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, counts["a1"].Weekly)
	assert.Equal(t, store.AssignmentCounts{}, counts["a2"])

	// Tenants are isolated.
	other, err := s.Counts(ctx, "globex", []string{"a1"}, monday)
	require.NoError(t, err)
	assert.Equal(t, 0, other["a1"].Monthly)

	require.NoError(t, s.Reset(ctx, "acme", "a1", monday.Add(24*time.Hour)))
	counts, err = s.Counts(ctx, "acme", []string{"a1"}, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, store.AssignmentCounts{}, counts["a1"])

	require.NoError(t, s.SetAvailability(ctx, "acme", "a1", false))
	un, err := s.Unavailable(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, un["a1"])

	require.NoError(t, s.SetAvailability(ctx, "acme", "a1", true))
	un, err = s.Unavailable(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, un["a1"])
}

func TestMemoryCounterStore(t *testing.T) {
	counterStoreContract(t, NewMemoryCounterStore())
}

func TestRedisCounterStore(t *testing.T) {
	s, _ := newRedisStore(t)
	counterStoreContract(t, s)
}

func TestRedisCounterKeysAndTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	_, err := s.Increment(context.Background(), "acme", "a1", monday)
	require.NoError(t, err)

	key := "leadrouter:cap:acme:a1:d:2026-03-02"
	require.True(t, mr.Exists(key))
	assert.Equal(t, 48*time.Hour, mr.TTL(key))
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	stores := map[string]CounterStore{"memory": NewMemoryCounterStore()}
	rs, _ := newRedisStore(t)
	stores["redis"] = rs

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 25; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = s.Increment(context.Background(), "acme", "busy", monday)
				}()
			}
			wg.Wait()
			counts, err := s.Counts(context.Background(), "acme", []string{"busy"}, monday)
			require.NoError(t, err)
			assert.Equal(t, 25, counts["busy"].Daily)
		})
	}
}

func TestAtCapacity(t *testing.T) {
	limits := store.CapacitySettings{DailyLimit: intPtr(10), WeeklyLimit: intPtr(30)}

	over, _ := AtCapacity(store.AssignmentCounts{Daily: 9, Weekly: 9}, limits)
	assert.False(t, over)

	over, reason := AtCapacity(store.AssignmentCounts{Daily: 10, Weekly: 10}, limits)
	assert.True(t, over)
	assert.Contains(t, reason, "daily")

	over, reason = AtCapacity(store.AssignmentCounts{Daily: 1, Weekly: 31}, limits)
	assert.True(t, over)
	assert.Contains(t, reason, "weekly")

	over, _ = AtCapacity(store.AssignmentCounts{Daily: 1000}, store.CapacitySettings{})
	assert.False(t, over, "nil limits are unlimited")
}

func TestCapacityMonotonicity(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryCounterStore(), discardLogger())
	tr.SetClock(func() time.Time { return monday })
	limits := store.CapacitySettings{DailyLimit: intPtr(3)}

	eligible := func() bool {
		snap, err := tr.Snapshot(ctx, "acme", []string{"a1"})
		require.NoError(t, err)
		over, _ := AtCapacity(snap.CountsFor("a1"), limits)
		return !over
	}

	var history []bool
	for i := 0; i < 5; i++ {
		history = append(history, eligible())
		_, err := tr.RecordAssignment(ctx, "acme", "a1")
		require.NoError(t, err)
	}
	assert.Equal(t, []bool{true, true, true, false, false}, history)

	require.NoError(t, tr.Reset(ctx, "acme", "a1"))
	assert.True(t, eligible())
}

func TestTrackerStatus(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryCounterStore(), discardLogger())
	tr.SetClock(func() time.Time { return monday })
	limits := store.CapacitySettings{DailyLimit: intPtr(10)}

	for i := 0; i < 8; i++ {
		_, _ = tr.RecordAssignment(ctx, "acme", "near")
	}
	for i := 0; i < 10; i++ {
		_, _ = tr.RecordAssignment(ctx, "acme", "full")
	}
	require.NoError(t, tr.SetAvailability(ctx, "acme", "off", false))

	agents := []*store.Agent{
		{ID: "off", Name: "Off", Available: true},
		{ID: "near", Name: "Near", Available: true},
		{ID: "full", Name: "Full", Available: true},
	}
	rows, err := tr.Status(ctx, "acme", agents, limits)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "full", rows[0].AgentID)
	assert.True(t, rows[0].HasCapacityIssue)
	assert.Equal(t, 10, rows[0].Daily)

	assert.Equal(t, "near", rows[1].AgentID)
	assert.False(t, rows[1].HasCapacityIssue)
	assert.Contains(t, rows[1].Warning, "approaching daily limit")

	assert.Equal(t, "off", rows[2].AgentID)
	assert.False(t, rows[2].Available)
}
