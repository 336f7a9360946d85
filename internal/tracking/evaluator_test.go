package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts sighting scans so cache hits can be observed.
type countingStore struct {
	*MemoryStore
	scans int
}

func (c *countingStore) CountSince(ctx context.Context, address string, since time.Time) (int, error) {
	c.scans++
	return c.MemoryStore.CountSince(ctx, address, since)
}

func TestEvaluate_FollowingDeviceIsTracking(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	e.follow(t, "tag", 3)
	level, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, level)

	cached, computedAt, err := e.Registry.GetCachedRisk(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, cached)
	require.NotNil(t, computedAt)
	assert.Equal(t, t0, *computedAt)
}

func TestEvaluate_StationaryDeviceIsLow(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	for i := 0; i < 30; i++ {
		e.see(t, "neighbour", t0.Add(-time.Duration(i)*time.Minute), at(0.00001*float64(i), 5))
	}
	level, err := e.Evaluator.Evaluate(context.Background(), "neighbour")
	require.NoError(t, err)
	assert.Equal(t, RiskLow, level)
}

func TestEvaluate_HighRisk(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	e.follow(t, "tag", 10)
	level, err := e.Evaluator.Evaluate(context.Background(), "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, level)
}

func TestEvaluate_OldSightingsAreNone(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	e.see(t, "old", t0.Add(-25*time.Hour), at(0, 5))
	level, err := e.Evaluator.Evaluate(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, RiskNone, level)
}

func TestEvaluate_UnknownDevice(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	_, err := e.Evaluator.Evaluate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestEvaluate_StorageUnavailable(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	e.follow(t, "tag", 3)
	e.store.FailWith = errors.New("locked")
	_, err := e.Evaluator.Evaluate(context.Background(), "tag")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestEvaluate_CachePolicy(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	e := newTestEngine(t, DefaultConfig())
	eng, err := NewEngine(store, DefaultConfig(), e.clock)
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := eng.Log.Append(ctx, Sighting{Address: "tag", Timestamp: t0.Add(-time.Duration(i) * time.Minute), Location: at(float64(i)*0.01, 5)})
		require.NoError(t, err)
	}

	_, err = eng.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, 1, store.scans, "first evaluation computes")

	// fresh: no new sightings, within the interval
	e.clock.Advance(10 * time.Minute)
	_, err = eng.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, 1, store.scans, "fresh cache must not scan")

	// exactly at the interval boundary is still fresh
	e.clock.Advance(5 * time.Minute)
	_, err = eng.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, 1, store.scans)

	// past the interval
	e.clock.Advance(time.Second)
	_, err = eng.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, 2, store.scans, "expired cache recomputes")

	// a newer sighting invalidates the cache
	e.clock.Advance(time.Second)
	_, err = eng.Log.Append(ctx, Sighting{Address: "tag", Timestamp: e.clock.Now()})
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	_, err = eng.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, 3, store.scans, "newer sighting recomputes")

	// a late arrival older than the cache does not
	_, err = eng.Log.Append(ctx, Sighting{Address: "tag", Timestamp: t0.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = eng.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, 3, store.scans)
}

func TestEvaluate_CacheNeverReturnsStaleLevelAfterNewSighting(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	e.see(t, "tag", t0, at(0, 5))
	level, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskLow, level)

	e.clock.Advance(time.Minute)
	e.see(t, "tag", e.clock.Now(), at(0.01, 5))
	e.clock.Advance(time.Minute)
	e.see(t, "tag", e.clock.Now(), at(0.02, 5))

	level, err = e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, level)
}

func TestEvaluate_SameSecondSightingForcesRecompute(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	e.see(t, "tag", t0.Add(-2*time.Minute), at(0, 5))
	e.see(t, "tag", t0.Add(-time.Minute), at(0.01, 5))
	level, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskLow, level)

	// stamped in the same second as the cached computation
	e.see(t, "tag", t0, at(0.02, 5))
	level, err = e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, level)
}

func TestEvaluate_FreshCacheIsIdempotent(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	cachedAt := func() time.Time {
		t.Helper()
		_, at, err := e.Registry.GetCachedRisk(ctx, "tag")
		require.NoError(t, err)
		require.NotNil(t, at)
		return *at
	}

	e.see(t, "tag", t0.Add(-time.Minute), at(0, 5))
	first, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	computed := cachedAt()
	assert.True(t, computed.Equal(t0))

	for i := 0; i < 3; i++ {
		e.clock.Advance(30 * time.Second)
		level, err := e.Evaluator.Evaluate(ctx, "tag")
		require.NoError(t, err)
		assert.Equal(t, first, level)
		assert.True(t, cachedAt().Equal(computed), "cache rewritten at %v", cachedAt())
	}
}

func TestEvaluate_SameSecondCacheSettlesAfterOneRecompute(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	// computed in the same second as the newest sighting: not provably
	// complete, so the next call recomputes once
	e.see(t, "tag", t0, at(0, 5))
	_, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	_, err = e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)

	_, settled, err := e.Registry.GetCachedRisk(ctx, "tag")
	require.NoError(t, err)
	require.NotNil(t, settled)
	assert.True(t, settled.Equal(t0.Add(time.Second)))

	e.clock.Advance(time.Second)
	_, err = e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	_, again, err := e.Registry.GetCachedRisk(ctx, "tag")
	require.NoError(t, err)
	assert.True(t, again.Equal(*settled))
}

func TestEvaluate_ThresholdChangeOnlyVisibleAfterStaleness(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	e.see(t, "tag", t0.Add(-3*time.Minute), at(0, 5))
	e.see(t, "tag", t0.Add(-2*time.Minute), at(0.01, 5))
	e.see(t, "tag", t0.Add(-time.Minute), at(0.02, 5))

	level, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, level)

	lenient := DefaultConfig()
	lenient.CountThreshold, lenient.LocationThreshold = 1, 1
	lenient.HighCountThreshold, lenient.HighLocationThreshold = 2, 2
	sentinel := e.Evaluator.WithConfig(lenient)

	e.clock.Advance(time.Minute)
	level, err = sentinel.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, level, "fresh cache is returned as-is")

	e.see(t, "tag", e.clock.Now(), nil)
	e.clock.Advance(time.Second)
	level, err = sentinel.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, level, "new sighting forces recomputation")
}

func TestEvaluate_IgnoredDevicesStillEvaluated(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	e.follow(t, "tag", 3)
	require.NoError(t, e.Registry.SetIgnoreFlag(ctx, "tag", true))

	level, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, level)
}

func TestEvaluate_WindowSlidesForward(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	e.follow(t, "tag", 3)

	level, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, level)

	e.clock.Advance(25 * time.Hour)
	level, err = e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskNone, level)
}

func TestRecompute_ReturnsStats(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	e.follow(t, "tag", 4)
	update, err := e.Evaluator.Recompute(context.Background(), "tag")
	require.NoError(t, err)
	assert.Equal(t, 4, update.Stats.Count)
	assert.Equal(t, 4, update.Stats.DistinctLocations)
	assert.Equal(t, RiskMedium, update.Level)
	assert.Equal(t, RiskNone, update.Previous)
}

func TestWithConfig_StricterThresholds(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	e.follow(t, "tag", 3)

	strict := DefaultConfig()
	strict.CountThreshold = 5
	strict.LocationThreshold = 5
	update, err := e.Evaluator.WithConfig(strict).Recompute(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, RiskLow, update.Level)
	assert.Equal(t, 5, e.Evaluator.WithConfig(strict).Config().CountThreshold)
	assert.Equal(t, 3, e.Evaluator.Config().CountThreshold)
}

func TestSubscribe_RiskChanges(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	sub := e.Evaluator.Subscribe("tag")
	defer e.Evaluator.Unsubscribe(sub)
	other := e.Evaluator.Subscribe("other")
	defer e.Evaluator.Unsubscribe(other)

	e.follow(t, "tag", 3)
	_, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	first := recv(t, sub.C)
	assert.Equal(t, RiskMedium, first.Level)

	// same level after expiry: no notification
	e.clock.Advance(time.Hour)
	_, err = e.Evaluator.Recompute(ctx, "tag")
	require.NoError(t, err)
	assertNoValue(t, sub.C)
	assertNoValue(t, other.C)
}
