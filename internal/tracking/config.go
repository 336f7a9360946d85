package tracking

import (
	"fmt"
	"time"
)

// Config holds the tunable inputs of the engine. The defaults are starting
// points, not calibrated values; deployments are expected to tune them (see
// config/trackwatch.defaults.json).
type Config struct {
	// RelevanceWindow is the lookback W; sightings at or after now-W count.
	RelevanceWindow time.Duration
	// ReevaluateInterval bounds how long a cached risk level is trusted when
	// no new sightings arrive.
	ReevaluateInterval time.Duration

	// CountThreshold and LocationThreshold must both be met for RiskMedium.
	CountThreshold    int
	LocationThreshold int
	// HighCountThreshold and HighLocationThreshold must both be met for
	// RiskHigh.
	HighCountThreshold    int
	HighLocationThreshold int

	// LocationTolerance is the distance in metres under which two fixes are
	// the same place.
	LocationTolerance float64
	// MaxAccuracy is the accuracy ceiling in metres; noisier fixes do not
	// contribute to location diversity.
	MaxAccuracy float64
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		RelevanceWindow:       24 * time.Hour,
		ReevaluateInterval:    15 * time.Minute,
		CountThreshold:        3,
		LocationThreshold:     3,
		HighCountThreshold:    10,
		HighLocationThreshold: 5,
		LocationTolerance:     100,
		MaxAccuracy:           100,
	}
}

// Validate rejects configurations whose thresholds are not monotone or not
// positive.
func (c Config) Validate() error {
	if c.RelevanceWindow <= 0 {
		return fmt.Errorf("relevance window must be positive, got %v", c.RelevanceWindow)
	}
	if c.ReevaluateInterval < 0 {
		return fmt.Errorf("re-evaluation interval must not be negative, got %v", c.ReevaluateInterval)
	}
	if c.CountThreshold < 1 || c.LocationThreshold < 1 {
		return fmt.Errorf("count and location thresholds must be at least 1, got %d and %d", c.CountThreshold, c.LocationThreshold)
	}
	if c.HighCountThreshold < c.CountThreshold {
		return fmt.Errorf("high count threshold %d is below count threshold %d", c.HighCountThreshold, c.CountThreshold)
	}
	if c.HighLocationThreshold < c.LocationThreshold {
		return fmt.Errorf("high location threshold %d is below location threshold %d", c.HighLocationThreshold, c.LocationThreshold)
	}
	if c.LocationTolerance < 0 {
		return fmt.Errorf("location tolerance must not be negative, got %f", c.LocationTolerance)
	}
	if c.MaxAccuracy < 0 {
		return fmt.Errorf("max accuracy must not be negative, got %f", c.MaxAccuracy)
	}
	return nil
}

// Classify maps window statistics to a level. Each level requires BOTH its
// count and its location threshold, so a device seen many times at one spot
// never reaches TrackingThreshold.
func (c Config) Classify(stats WindowStats) RiskLevel {
	switch {
	case stats.Count == 0:
		return RiskNone
	case stats.Count >= c.HighCountThreshold && stats.DistinctLocations >= c.HighLocationThreshold:
		return RiskHigh
	case stats.Count >= c.CountThreshold && stats.DistinctLocations >= c.LocationThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}
