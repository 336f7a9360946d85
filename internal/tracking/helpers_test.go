package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trackwatch/internal/timeutil"
)

var t0 = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

type testEngine struct {
	*Engine
	store *MemoryStore
	clock *timeutil.MockClock
}

func newTestEngine(t *testing.T, cfg Config) *testEngine {
	t.Helper()
	store := NewMemoryStore()
	clock := timeutil.NewMockClock(t0)
	eng, err := NewEngine(store, cfg, clock)
	require.NoError(t, err)
	eng.Session.SettleDelay = 0
	t.Cleanup(eng.Close)
	return &testEngine{Engine: eng, store: store, clock: clock}
}

// at returns a fix offset from a fixed origin by dLat degrees of latitude.
// 0.01 degrees is roughly 1.1 km.
func at(dLat float64, accuracy float64) *Location {
	return &Location{Latitude: 52.5 + dLat, Longitude: 13.4, Accuracy: accuracy}
}

func rssi(v int) *int { return &v }

func (e *testEngine) see(t *testing.T, addr string, ts time.Time, loc *Location) Sighting {
	t.Helper()
	s, err := e.Log.Append(context.Background(), Sighting{Address: addr, Timestamp: ts, Location: loc})
	require.NoError(t, err)
	return s
}

// follow records n sightings of addr one minute apart, each at a separate
// place, ending at the current clock time.
func (e *testEngine) follow(t *testing.T, addr string, n int) {
	t.Helper()
	now := e.clock.Now()
	for i := 0; i < n; i++ {
		e.see(t, addr, now.Add(-time.Duration(n-1-i)*time.Minute), at(float64(i)*0.01, 10))
	}
}

// recv waits briefly for a value on ch.
func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func assertNoValue[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %+v", v)
	case <-time.After(20 * time.Millisecond):
	}
}
