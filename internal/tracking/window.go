package tracking

import (
	"context"
	"time"
)

// WindowStats are the per-device statistics over one relevance window.
type WindowStats struct {
	// Since is the inclusive lower bound, now-W.
	Since time.Time `json:"since"`
	// Count is every sighting in the window, located or not.
	Count int `json:"count"`
	// LocatedCount is the sightings whose fix passed the accuracy ceiling.
	LocatedCount int `json:"located_count"`
	// DistinctLocations is LocatedCount after spatial deduplication.
	DistinctLocations int `json:"distinct_locations"`
}

// WindowAggregator computes WindowStats from the event log.
type WindowAggregator struct {
	log *EventLog
	cfg Config
}

// NewWindowAggregator builds an aggregator using the window, tolerance and
// accuracy ceiling from cfg.
func NewWindowAggregator(log *EventLog, cfg Config) *WindowAggregator {
	return &WindowAggregator{log: log, cfg: cfg}
}

// WithConfig returns an aggregator over the same log with different
// parameters.
func (a *WindowAggregator) WithConfig(cfg Config) *WindowAggregator {
	return &WindowAggregator{log: a.log, cfg: cfg}
}

// WindowStart returns the inclusive lower bound of the window ending at now.
func (a *WindowAggregator) WindowStart(now time.Time) time.Time {
	return Canonical(now).Add(-a.cfg.RelevanceWindow)
}

// Stats computes the window statistics for address ending at now. A device
// with no sightings in the window yields zero counts.
func (a *WindowAggregator) Stats(ctx context.Context, address string, now time.Time) (WindowStats, error) {
	since := a.WindowStart(now)
	stats := WindowStats{Since: since}

	count, err := a.log.CountSince(ctx, address, since)
	if err != nil {
		return WindowStats{}, err
	}
	stats.Count = count
	if count == 0 {
		return stats, nil
	}

	located, err := a.log.QuerySinceWithAccuracyLimit(ctx, address, since, a.cfg.MaxAccuracy)
	if err != nil {
		return WindowStats{}, err
	}
	stats.LocatedCount = len(located)
	stats.DistinctLocations = DistinctLocations(located, a.cfg.LocationTolerance, a.cfg.MaxAccuracy)
	return stats, nil
}

// DistinctLocations counts independent places among sightings. Fixes that
// are missing, invalid or less accurate than maxAccuracy are skipped. The
// rest are visited in (timestamp, ID) order; a fix opens a new place only
// when it lies farther than tolerance metres from every place opened so
// far. The visiting order makes the result independent of storage order.
func DistinctLocations(sightings []Sighting, tolerance, maxAccuracy float64) int {
	ordered := make([]Sighting, 0, len(sightings))
	for _, s := range sightings {
		if s.Location == nil || !s.Location.Valid() || s.Location.Accuracy > maxAccuracy {
			continue
		}
		ordered = append(ordered, s)
	}
	sortSightings(ordered)

	var places []Location
	for _, s := range ordered {
		fresh := true
		for _, p := range places {
			if haversineMetres(p, *s.Location) <= tolerance {
				fresh = false
				break
			}
		}
		if fresh {
			places = append(places, *s.Location)
		}
	}
	return len(places)
}
