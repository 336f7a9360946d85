package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trackwatch/internal/tracking"
)

var storeEpoch = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func sighting(id, addr string, ts time.Time, loc *tracking.Location) tracking.Sighting {
	return tracking.Sighting{ID: id, Address: addr, Timestamp: ts, Location: loc}
}

// RunStoreSuite checks the behaviour the engine relies on from a Store.
// newStore must return an empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) tracking.Store) {
	ctx := context.Background()

	t.Run("InsertCreatesDevice", func(t *testing.T) {
		s := newStore(t)
		rssi := -55
		in := sighting("s1", "dev", storeEpoch, nil)
		in.RSSI = &rssi
		in.Type = tracking.DeviceTypeTile
		require.NoError(t, s.InsertSighting(ctx, in))

		d, err := s.Device(ctx, "dev")
		require.NoError(t, err)
		assert.Equal(t, tracking.DeviceTypeTile, d.Type)
		assert.True(t, d.FirstSeen.Equal(storeEpoch))
		assert.True(t, d.LastSeen.Equal(storeEpoch))
		require.NotNil(t, d.LastRSSI)
		assert.Equal(t, -55, *d.LastRSSI)
		assert.Nil(t, d.RiskComputedAt)
		assert.False(t, d.Ignored)
	})

	t.Run("DuplicateIDRejected", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertSighting(ctx, sighting("s1", "dev", storeEpoch, nil)))
		err := s.InsertSighting(ctx, sighting("s1", "other", storeEpoch.Add(time.Minute), nil))
		assert.ErrorIs(t, err, tracking.ErrMalformedSighting)

		_, err = s.Device(ctx, "other")
		assert.ErrorIs(t, err, tracking.ErrUnknownDevice)
		d, err := s.Device(ctx, "dev")
		require.NoError(t, err)
		assert.True(t, d.LastSeen.Equal(storeEpoch))
	})

	t.Run("LastSeenOnlyAdvances", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertSighting(ctx, sighting("a", "dev", storeEpoch, nil)))
		require.NoError(t, s.InsertSighting(ctx, sighting("b", "dev", storeEpoch.Add(-time.Hour), nil)))

		d, err := s.Device(ctx, "dev")
		require.NoError(t, err)
		assert.True(t, d.LastSeen.Equal(storeEpoch))
		assert.True(t, d.FirstSeen.Equal(storeEpoch.Add(-time.Hour)))
	})

	t.Run("UnknownDevice", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Device(ctx, "ghost")
		assert.ErrorIs(t, err, tracking.ErrUnknownDevice)
		_, err = s.DeviceSightingsSince(ctx, "ghost", storeEpoch)
		assert.ErrorIs(t, err, tracking.ErrUnknownDevice)
		_, err = s.CountSince(ctx, "ghost", storeEpoch)
		assert.ErrorIs(t, err, tracking.ErrUnknownDevice)
		assert.ErrorIs(t, s.SetIgnored(ctx, "ghost", true), tracking.ErrUnknownDevice)
		assert.ErrorIs(t, s.SetCachedRisk(ctx, "ghost", tracking.RiskLow, storeEpoch), tracking.ErrUnknownDevice)
	})

	t.Run("SightingQueries", func(t *testing.T) {
		s := newStore(t)
		loc := func(acc float64) *tracking.Location {
			return &tracking.Location{Latitude: 52.5, Longitude: 13.4, Accuracy: acc}
		}
		for _, in := range []tracking.Sighting{
			sighting("3", "dev", storeEpoch.Add(time.Minute), loc(50)),
			sighting("1", "dev", storeEpoch, loc(150)),
			sighting("2", "dev", storeEpoch, nil),
			sighting("0", "dev", storeEpoch.Add(-time.Second), loc(5)),
			sighting("9", "other", storeEpoch, loc(5)),
		} {
			require.NoError(t, s.InsertSighting(ctx, in))
		}

		got, err := s.DeviceSightingsSince(ctx, "dev", storeEpoch)
		require.NoError(t, err)
		ids := make([]string, len(got))
		for i, g := range got {
			ids[i] = g.ID
		}
		if diff := cmp.Diff([]string{"1", "2", "3"}, ids); diff != "" {
			t.Errorf("ordering mismatch (-want +got):\n%s", diff)
		}

		n, err := s.CountSince(ctx, "dev", storeEpoch)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		located, err := s.DeviceSightingsSinceWithAccuracyLimit(ctx, "dev", storeEpoch, 100)
		require.NoError(t, err)
		require.Len(t, located, 1)
		assert.Equal(t, "3", located[0].ID)
		assert.InDelta(t, 52.5, located[0].Location.Latitude, 1e-9)

		all, err := s.SightingsSince(ctx, storeEpoch)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("DeviceLists", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertSighting(ctx, sighting("1", "recent", storeEpoch, nil)))
		require.NoError(t, s.InsertSighting(ctx, sighting("2", "old", storeEpoch.Add(-48*time.Hour), nil)))
		require.NoError(t, s.SetIgnored(ctx, "old", true))

		all, err := s.Devices(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		active, err := s.DevicesSeenSince(ctx, storeEpoch)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "recent", active[0].Address)

		ignored, err := s.IgnoredDevices(ctx)
		require.NoError(t, err)
		require.Len(t, ignored, 1)
		assert.Equal(t, "old", ignored[0].Address)

		// ignoring keeps history
		n, err := s.CountSince(ctx, "old", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("CachedRiskRoundTrip", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertSighting(ctx, sighting("1", "dev", storeEpoch, nil)))
		require.NoError(t, s.SetCachedRisk(ctx, "dev", tracking.RiskMedium, storeEpoch.Add(time.Minute)))
		require.NoError(t, s.SetCachedRisk(ctx, "dev", tracking.RiskHigh, storeEpoch.Add(2*time.Minute)))

		d, err := s.Device(ctx, "dev")
		require.NoError(t, err)
		assert.Equal(t, tracking.RiskHigh, d.RiskLevel)
		require.NotNil(t, d.RiskComputedAt)
		assert.True(t, d.RiskComputedAt.Equal(storeEpoch.Add(2*time.Minute)))
	})

	t.Run("ConcurrentAppendNeverExposesOrphans", func(t *testing.T) {
		s := newStore(t)
		const writers, perWriter = 4, 25

		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					addr := fmt.Sprintf("dev-%d-%d", w, i%5)
					ts := storeEpoch.Add(time.Duration(i) * time.Second)
					if err := s.InsertSighting(ctx, sighting(fmt.Sprintf("%d-%d", w, i), addr, ts, nil)); err != nil {
						errs <- err
					}
				}
			}(w)
		}

		stop := make(chan struct{})
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				select {
				case <-stop:
					return
				default:
				}
				devices, err := s.Devices(ctx)
				if err != nil {
					errs <- err
					return
				}
				for _, d := range devices {
					n, err := s.CountSince(ctx, d.Address, time.Time{})
					if err != nil {
						errs <- err
						return
					}
					if n == 0 {
						errs <- fmt.Errorf("device %s visible without sightings", d.Address)
						return
					}
				}
			}
		}()

		wg.Wait()
		close(stop)
		<-readerDone
		close(errs)
		for err := range errs {
			t.Error(err)
		}

		all, err := s.SightingsSince(ctx, time.Time{})
		require.NoError(t, err)
		assert.Len(t, all, writers*perWriter)
	})
}
