package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		count, distinct int
		want            RiskLevel
	}{
		{0, 0, RiskNone},
		{1, 1, RiskLow},
		{2, 2, RiskLow},
		{3, 3, RiskMedium},
		{50, 2, RiskLow}, // many sightings at few places
		{2, 5, RiskLow},
		{9, 5, RiskMedium},
		{10, 4, RiskMedium},
		{10, 5, RiskHigh},
		{100, 100, RiskHigh},
	}
	for _, tt := range tests {
		got := cfg.Classify(WindowStats{Count: tt.count, DistinctLocations: tt.distinct})
		assert.Equal(t, tt.want, got, "count=%d distinct=%d", tt.count, tt.distinct)
	}
}

func TestClassify_MonotoneInCount(t *testing.T) {
	cfg := DefaultConfig()
	for distinct := 0; distinct <= 8; distinct++ {
		prev := RiskNone
		for count := distinct; count <= 20; count++ {
			level := cfg.Classify(WindowStats{Count: count, DistinctLocations: distinct})
			assert.GreaterOrEqual(t, level, prev, "count=%d distinct=%d", count, distinct)
			prev = level
		}
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	mutate := func(f func(*Config)) Config {
		c := DefaultConfig()
		f(&c)
		return c
	}
	bad := map[string]Config{
		"zero window":        mutate(func(c *Config) { c.RelevanceWindow = 0 }),
		"negative interval":  mutate(func(c *Config) { c.ReevaluateInterval = -time.Second }),
		"zero count":         mutate(func(c *Config) { c.CountThreshold = 0 }),
		"high below medium":  mutate(func(c *Config) { c.HighCountThreshold = 2 }),
		"high loc below":     mutate(func(c *Config) { c.HighLocationThreshold = 1 }),
		"negative tolerance": mutate(func(c *Config) { c.LocationTolerance = -1 }),
		"negative accuracy":  mutate(func(c *Config) { c.MaxAccuracy = -1 }),
	}
	for name, c := range bad {
		assert.Error(t, c.Validate(), name)
	}
}

func TestRiskLevel(t *testing.T) {
	assert.False(t, RiskLow.IsTracking())
	assert.True(t, RiskMedium.IsTracking())
	assert.True(t, RiskHigh.IsTracking())
	assert.Equal(t, "medium", RiskMedium.String())
	assert.Equal(t, "invalid", RiskLevel(9).String())

	b, err := RiskHigh.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "high", string(b))

	var back RiskLevel
	assert.NoError(t, back.UnmarshalText(b))
	assert.Equal(t, RiskHigh, back)
	assert.Error(t, back.UnmarshalText([]byte("severe")))
}

func TestParseDeviceType(t *testing.T) {
	assert.Equal(t, DeviceTypeAirTag, ParseDeviceType("airtag"))
	assert.Equal(t, DeviceTypeSamsungSmartTag, ParseDeviceType("samsung-smart-tag"))
	assert.Equal(t, DeviceTypeSamsungSmartTag, ParseDeviceType("SmartTag"))
	assert.Equal(t, DeviceTypeGoogleFindMy, ParseDeviceType(" google find my "))
	assert.Equal(t, DeviceTypeUnknown, ParseDeviceType("toaster"))
	assert.NotContains(t, KnownDeviceTypes(), DeviceTypeUnknown)
}

func TestSightingProximity(t *testing.T) {
	fn := func(rssi int) float64 { return float64(rssi+100) / 70 }
	_, ok := Sighting{}.Proximity(fn)
	assert.False(t, ok)

	v, ok := Sighting{RSSI: rssi(-30)}.Proximity(fn)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 4, 10, 12, 0, 5, 0, time.UTC)
	for _, in := range []string{
		"2026-04-10T12:00:05Z",
		"2026-04-10T14:00:05+02:00",
		"2026-04-10T12:00:05.999Z",
		"2026-04-10T12:00:05",
		"2026-04-10T12:00:05.25",
	} {
		got, err := ParseTimestamp(in)
		if assert.NoError(t, err, in) {
			assert.Equal(t, want, got, in)
		}
	}
	for _, in := range []string{"", "10/04/2026", "2026-04-10", "now"} {
		_, err := ParseTimestamp(in)
		assert.ErrorIs(t, err, ErrInvalidTimestampFormat, in)
	}
}
