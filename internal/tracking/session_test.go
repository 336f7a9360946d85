package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addresses(devices []Device) []string {
	out := make([]string, len(devices))
	for i, d := range devices {
		out[i] = d.Address
	}
	return out
}

func TestActiveTracking_ExcludesIgnoredAndLowRisk(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	since := t0.Add(-24 * time.Hour)

	e.follow(t, "tag-a", 3)
	e.follow(t, "tag-b", 5)
	e.see(t, "headphones", t0, at(0, 5))

	devices, err := e.Session.ActiveTrackingDevices(ctx, since)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"tag-a", "tag-b"}, addresses(devices)); diff != "" {
		t.Errorf("tracking set mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, e.Registry.SetIgnoreFlag(ctx, "tag-a", true))
	n, err := e.Session.ActiveTrackingCount(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	notTracking, err := e.Session.CountNotTracking(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1, notTracking)

	// un-ignoring restores the device without re-ingestion
	require.NoError(t, e.Registry.SetIgnoreFlag(ctx, "tag-a", false))
	n, err = e.Session.ActiveTrackingCount(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestActiveTracking_ReportsComputedAtWithLevel(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	e.see(t, "tag", t0.Add(-time.Minute), at(0, 5))
	level, err := e.Evaluator.Evaluate(ctx, "tag")
	require.NoError(t, err)
	require.Equal(t, RiskLow, level)

	e.clock.Advance(time.Minute)
	e.see(t, "tag", e.clock.Now(), at(0.01, 5))
	e.clock.Advance(time.Minute)
	e.see(t, "tag", e.clock.Now(), at(0.02, 5))
	e.clock.Advance(time.Second)

	devices, err := e.Session.ActiveTrackingDevices(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, RiskMedium, devices[0].RiskLevel)
	require.NotNil(t, devices[0].RiskComputedAt)
	assert.True(t, devices[0].RiskComputedAt.Equal(e.clock.Now()), "computed at %v", devices[0].RiskComputedAt)
}

func TestActiveTracking_SinceFiltersOldDevices(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	e.follow(t, "tag", 3)

	n, err := e.Session.ActiveTrackingCount(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestActiveTracking_OrderedMostRecentFirst(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	e.follow(t, "early", 3)
	e.clock.Advance(time.Hour)
	e.follow(t, "late", 3)

	devices, err := e.Session.ActiveTrackingDevices(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"late", "early"}, addresses(devices)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, RiskMedium, devices[0].RiskLevel)
}

func TestRefresh_PublishesToSubscribers(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	sub := e.Session.Subscribe()
	defer e.Session.Unsubscribe(sub)

	e.follow(t, "tag", 3)
	update, err := e.Session.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, update.Count)
	assert.Equal(t, t0, update.At)
	assert.Equal(t, t0.Add(-24*time.Hour), update.Since)

	got := recv(t, sub.C)
	assert.Equal(t, update.Count, got.Count)

	last, ok := e.Session.Last()
	require.True(t, ok)
	assert.Equal(t, 1, last.Count)
}

func TestSessionSubscriber_LatestWins(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	sub := e.Session.Subscribe()
	defer e.Session.Unsubscribe(sub)

	_, err := e.Session.Refresh(ctx)
	require.NoError(t, err)
	e.follow(t, "tag", 3)
	_, err = e.Session.Refresh(ctx)
	require.NoError(t, err)

	got := recv(t, sub.C)
	assert.Equal(t, 1, got.Count, "slow reader sees the latest state")
	assertNoValue(t, sub.C)
}

func TestRun_RecomputesOnSightingsAndIgnore(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := e.Session.Subscribe()
	defer e.Session.Unsubscribe(sub)

	done := make(chan error, 1)
	go func() { done <- e.Session.Run(ctx) }()

	initial := recv(t, sub.C)
	assert.Zero(t, initial.Count)

	e.follow(t, "tag", 3)
	require.Eventually(t, func() bool {
		last, ok := e.Session.Last()
		return ok && last.Count == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Registry.SetIgnoreFlag(context.Background(), "tag", true))
	require.Eventually(t, func() bool {
		last, ok := e.Session.Last()
		return ok && last.Count == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestDeviceStatistics(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	for _, s := range []Sighting{
		{Address: "a", Timestamp: t0, Type: DeviceTypeAirTag},
		{Address: "b", Timestamp: t0, Type: DeviceTypeAirTag},
		{Address: "c", Timestamp: t0.Add(-48 * time.Hour), Type: DeviceTypeTile},
		{Address: "d", Timestamp: t0, Type: DeviceTypeChipolo},
	} {
		_, err := e.Log.Append(ctx, s)
		require.NoError(t, err)
	}
	require.NoError(t, e.Registry.SetIgnoreFlag(ctx, "d", true))
	since := t0.Add(-24 * time.Hour)

	total, err := e.Registry.TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	ignored, err := e.Registry.CountIgnored(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ignored)

	seen, err := e.Registry.CountSeenSince(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 3, seen)

	airtags, err := e.Registry.CountForType(ctx, DeviceTypeAirTag, since)
	require.NoError(t, err)
	assert.Equal(t, 2, airtags)

	tiles, err := e.Registry.CountForTypes(ctx, since, DeviceTypeTile, DeviceTypeChipolo)
	require.NoError(t, err)
	assert.Equal(t, 1, tiles)
}
