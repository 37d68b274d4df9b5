package redisstore

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsentinel.dev/identifiers"
	"flowsentinel.dev/store"
)

func newTestStore(t *testing.T, configure func(*Config)) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.Mode = Shared
	cfg.Client = client
	if configure != nil {
		configure(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	return s, mr
}

func mustCtx(t *testing.T, instanceId, ownerId, partitionKey string) identifiers.FlowContext {
	t.Helper()
	ctx, err := identifiers.NewFlowContext(instanceId, ownerId, partitionKey)
	require.NoError(t, err)
	return ctx
}

func TestStore_SaveLoadDeleteRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, nil)

	agg := store.FlowAggregate{
		Meta:            store.FlowMeta{Context: mustCtx(t, "i-1", "", "p1"), CreatedAt: time.Now()},
		CurrentSnapshot: &store.FlowSnapshot{StepId: "s1"},
	}
	require.NoError(t, s.SaveAggregate("fs:flow:p1:i-1:agg", agg))

	got, ok, err := s.LoadAggregate("fs:flow:p1:i-1:agg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "i-1", got.Meta.FlowId())
	assert.Equal(t, "s1", got.CurrentSnapshot.StepId)

	exists, err := s.Exists("fs:flow:p1:i-1:agg")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete("fs:flow:p1:i-1:agg"))
	_, ok, err = s.LoadAggregate("fs:flow:p1:i-1:agg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_LoadAggregate_AbsentReturnsEmpty(t *testing.T) {
	s, _ := newTestStore(t, nil)
	_, ok, err := s.LoadAggregate("fs:flow:nope:agg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RoundTripStructuralEquality(t *testing.T) {
	s, _ := newTestStore(t, nil)
	now := time.Now().UTC().Truncate(time.Second)
	agg := store.FlowAggregate{
		Meta: store.FlowMeta{
			Context:   mustCtx(t, "i-1", "u-1", "u-1"),
			Status:    store.StatusRunning, Step: "s2", Version: 3,
			CreatedAt: now, UpdatedAt: now,
		},
		CurrentSnapshot: &store.FlowSnapshot{FlowId: "onboarding:u-1:i-1", StepId: "s2", IsCompleted: false, Attributes: map[string]interface{}{"k": "v"}},
		SnapshotHistory: []store.FlowSnapshot{{StepId: "s1"}},
	}
	require.NoError(t, s.SaveAggregate("fs:flow:u-1:i-1:agg", agg))

	got, ok, err := s.LoadAggregate("fs:flow:u-1:i-1:agg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, agg.Meta.FlowId(), got.Meta.FlowId())
	assert.Equal(t, agg.Meta.Version, got.Meta.Version)
	assert.Equal(t, agg.CurrentSnapshot.Attributes["k"], got.CurrentSnapshot.Attributes["k"])
	assert.Equal(t, agg.SnapshotHistory[0].StepId, got.SnapshotHistory[0].StepId)
}

// TestStore_RoundTripPreservesFlowContext exercises spec.md's "for every
// FlowAggregate a encoded and decoded, decode(encode(a)) == a structurally"
// invariant directly against FlowMeta.Context, which the flat
// FlowId/OwnerId/Partition accessors alone don't prove: a round-trip through
// a lossy encoding could still agree on those three derived strings while
// losing the FlowContext's own identity.
func TestStore_RoundTripPreservesFlowContext(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := mustCtx(t, "i-1", "u-1", "partition-7")
	agg := store.FlowAggregate{Meta: store.NewMeta(ctx, time.Now())}
	require.NoError(t, s.SaveAggregate("fs:flow:partition-7:i-1:agg", agg))

	got, ok, err := s.LoadAggregate("fs:flow:partition-7:i-1:agg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ctx, got.Meta.Context)
	assert.Equal(t, ctx.InstanceId(), got.Meta.Context.InstanceId())
	assert.Equal(t, ctx.OwnerId(), got.Meta.Context.OwnerId())
	assert.Equal(t, ctx.PartitionKey(), got.Meta.Context.PartitionKey())
}

func TestStore_WriteSetsTTLFromCreatedAt(t *testing.T) {
	s, mr := newTestStore(t, func(c *Config) {
		c.TTL = time.Hour
		c.AbsoluteTTL = time.Minute
	})

	createdAt := time.Now().Add(-45 * time.Second)
	agg := store.FlowAggregate{Meta: store.FlowMeta{Context: mustCtx(t, "i-1", "", ""), CreatedAt: createdAt}}
	require.NoError(t, s.SaveAggregate("fs:flow:i-1:agg", agg))

	ttl := mr.TTL("fs:flow:i-1:agg")
	// absoluteTtl(60s) - age(45s) = ~15s remaining, bounded above by TTL(1h)
	assert.True(t, ttl > 0 && ttl <= 16*time.Second, "ttl was %v", ttl)
}

func TestStore_SlidingOnReadReissuesExpire(t *testing.T) {
	s, mr := newTestStore(t, func(c *Config) {
		c.TTL = 100 * time.Millisecond
		c.SlidingEnabled = true
		c.SlidingReset = OnRead
	})

	require.NoError(t, s.SaveAggregate("fs:flow:i-1:agg", store.FlowAggregate{Meta: store.FlowMeta{Context: mustCtx(t, "i-1", "", ""), CreatedAt: time.Now()}}))
	mr.FastForward(60 * time.Millisecond)

	_, ok, err := s.LoadAggregate("fs:flow:i-1:agg")
	require.NoError(t, err)
	require.True(t, ok)

	ttl := mr.TTL("fs:flow:i-1:agg")
	assert.True(t, ttl > 60*time.Millisecond, "read should have renewed the ttl, got %v", ttl)
}

func TestStore_PartitionInvalidation(t *testing.T) {
	// Scenario 6: three aggregates under partition p1, one under p2;
	// invalidateByPartition("p1") removes exactly the three.
	s, _ := newTestStore(t, nil)

	for _, id := range []string{"a", "b", "c"} {
		agg := store.FlowAggregate{Meta: store.FlowMeta{Context: mustCtx(t, id, "", "p1"), CreatedAt: time.Now()}}
		require.NoError(t, s.SaveAggregate(s.BuildKey(id, "p1"), agg))
	}
	agg := store.FlowAggregate{Meta: store.FlowMeta{Context: mustCtx(t, "d", "", "p2"), CreatedAt: time.Now()}}
	require.NoError(t, s.SaveAggregate(s.BuildKey("d", "p2"), agg))

	removed, err := s.InvalidateByPartition("p1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	for _, id := range []string{"a", "b", "c"} {
		exists, err := s.Exists(s.BuildKey(id, "p1"))
		require.NoError(t, err)
		assert.False(t, exists)
	}
	exists, err := s.Exists(s.BuildKey("d", "p2"))
	require.NoError(t, err)
	assert.True(t, exists)

	active, err := s.ListActiveFlows("p1")
	require.NoError(t, err)
	assert.Empty(t, active)

	activeP2, err := s.ListActiveFlows("p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, activeP2)
}

func TestStore_BulkDeleteReturnsCountActuallyRemoved(t *testing.T) {
	s, _ := newTestStore(t, nil)
	require.NoError(t, s.SaveAggregate("fs:flow:i-1:agg", store.FlowAggregate{Meta: store.FlowMeta{Context: mustCtx(t, "i-1", "", ""), CreatedAt: time.Now()}}))
	require.NoError(t, s.SaveAggregate("fs:flow:i-2:agg", store.FlowAggregate{Meta: store.FlowMeta{Context: mustCtx(t, "i-2", "", ""), CreatedAt: time.Now()}}))

	removed, err := s.BulkDelete([]string{"fs:flow:i-1:agg", "fs:flow:i-2:agg", "fs:flow:missing:agg"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestStore_BuildKey(t *testing.T) {
	s, _ := newTestStore(t, nil)
	assert.Equal(t, "fs:flow:i-1:agg", s.BuildKey("i-1", ""))
	assert.Equal(t, "fs:flow:p1:i-1:agg", s.BuildKey("i-1", "p1"))
}
