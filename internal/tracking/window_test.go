package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineMetres(t *testing.T) {
	a := Location{Latitude: 52.5, Longitude: 13.4}
	assert.InDelta(t, 0, haversineMetres(a, a), 1e-9)

	// one hundredth of a degree of latitude is about 1112 m
	b := Location{Latitude: 52.51, Longitude: 13.4}
	assert.InDelta(t, 1112, haversineMetres(a, b), 2)
	assert.InDelta(t, haversineMetres(a, b), haversineMetres(b, a), 1e-9)
}

func TestDistinctLocations(t *testing.T) {
	s := func(id string, ts time.Time, loc *Location) Sighting {
		return Sighting{ID: id, Address: "dev", Timestamp: ts, Location: loc}
	}

	tests := []struct {
		name      string
		sightings []Sighting
		want      int
	}{
		{"empty", nil, 0},
		{"no fixes", []Sighting{s("1", t0, nil), s("2", t0, nil)}, 0},
		{"same spot repeated", []Sighting{
			s("1", t0, at(0, 10)),
			s("2", t0.Add(time.Minute), at(0.0001, 10)),
			s("3", t0.Add(2*time.Minute), at(0.0002, 10)),
		}, 1},
		{"three far apart", []Sighting{
			s("1", t0, at(0, 10)),
			s("2", t0.Add(time.Minute), at(0.01, 10)),
			s("3", t0.Add(2*time.Minute), at(0.02, 10)),
		}, 3},
		{"inaccurate fixes excluded", []Sighting{
			s("1", t0, at(0, 10)),
			s("2", t0.Add(time.Minute), at(0.01, 500)),
			s("3", t0.Add(2*time.Minute), at(0.02, 101)),
		}, 1},
		{"accuracy at ceiling included", []Sighting{
			s("1", t0, at(0, 100)),
			s("2", t0.Add(time.Minute), at(0.01, 100)),
		}, 2},
		{"invalid fix excluded", []Sighting{
			s("1", t0, &Location{Latitude: 95, Longitude: 0, Accuracy: 1}),
			s("2", t0, at(0, 1)),
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DistinctLocations(tt.sightings, 100, 100))
		})
	}
}

func TestDistinctLocations_IndependentOfInputOrder(t *testing.T) {
	// A chain 0m, 80m, 160m: greedy visiting from the first fix yields two
	// places (0 and 160), visiting from the middle would yield one.
	fix := func(m float64) *Location { return at(m/111_195, 1) }
	ordered := []Sighting{
		{ID: "a", Timestamp: t0, Location: fix(0)},
		{ID: "b", Timestamp: t0.Add(time.Second), Location: fix(80)},
		{ID: "c", Timestamp: t0.Add(2 * time.Second), Location: fix(160)},
	}
	shuffled := []Sighting{ordered[1], ordered[2], ordered[0]}

	want := DistinctLocations(ordered, 100, 100)
	assert.Equal(t, 2, want)
	assert.Equal(t, want, DistinctLocations(shuffled, 100, 100))
}

func TestDistinctLocations_TiesBrokenByID(t *testing.T) {
	fix := func(m float64) *Location { return at(m/111_195, 1) }
	in := []Sighting{
		{ID: "b", Timestamp: t0, Location: fix(80)},
		{ID: "a", Timestamp: t0, Location: fix(0)},
		{ID: "c", Timestamp: t0, Location: fix(160)},
	}
	// visits a(0), b(80, merged), c(160, new)
	assert.Equal(t, 2, DistinctLocations(in, 100, 100))
}

func TestWindowStats_InclusiveLowerBound(t *testing.T) {
	cfg := DefaultConfig()
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	start := t0.Add(-cfg.RelevanceWindow)
	e.see(t, "dev", start.Add(-time.Second), at(0.05, 10)) // outside
	e.see(t, "dev", start, at(0, 10))                      // exactly on the bound
	e.see(t, "dev", t0, nil)

	agg := NewWindowAggregator(e.Log, cfg)
	stats, err := agg.Stats(ctx, "dev", t0)
	require.NoError(t, err)
	assert.Equal(t, start, stats.Since)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 1, stats.LocatedCount)
	assert.Equal(t, 1, stats.DistinctLocations)
}

func TestWindowStats_NoSightingsInWindow(t *testing.T) {
	cfg := DefaultConfig()
	e := newTestEngine(t, cfg)
	e.see(t, "dev", t0.Add(-72*time.Hour), at(0, 10))

	stats, err := NewWindowAggregator(e.Log, cfg).Stats(context.Background(), "dev", t0)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
	assert.Zero(t, stats.DistinctLocations)
}

func TestWindowStats_UnknownDevice(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	_, err := NewWindowAggregator(e.Log, DefaultConfig()).Stats(context.Background(), "ghost", t0)
	assert.ErrorIs(t, err, ErrUnknownDevice)
}
