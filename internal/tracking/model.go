// Package tracking implements the tracker detection engine: an append-only
// sighting log, the per-device registry with its cached risk, windowed
// location-diversity statistics and the risk classification built on them.
//
// Storage is abstracted behind Store. MemoryStore backs tests and replay runs;
// internal/db provides the SQLite implementation used by the service.
package tracking

import (
	"fmt"
	"strings"
	"time"
)

// DeviceType identifies the tracker protocol or manufacturer that produced an
// advertisement.
type DeviceType string

const (
	DeviceTypeUnknown         DeviceType = "UNKNOWN"
	DeviceTypeAirTag          DeviceType = "AIRTAG"
	DeviceTypeFindMy          DeviceType = "FIND_MY"
	DeviceTypeAirPods         DeviceType = "AIRPODS"
	DeviceTypeTile            DeviceType = "TILE"
	DeviceTypeSamsungSmartTag DeviceType = "SAMSUNG_SMART_TAG"
	DeviceTypeChipolo         DeviceType = "CHIPOLO"
	DeviceTypePebblebee       DeviceType = "PEBBLEBEE"
	DeviceTypeGoogleFindMy    DeviceType = "GOOGLE_FIND_MY"
)

var knownDeviceTypes = []DeviceType{
	DeviceTypeAirTag,
	DeviceTypeFindMy,
	DeviceTypeAirPods,
	DeviceTypeTile,
	DeviceTypeSamsungSmartTag,
	DeviceTypeChipolo,
	DeviceTypePebblebee,
	DeviceTypeGoogleFindMy,
}

// KnownDeviceTypes returns every recognised type except DeviceTypeUnknown.
func KnownDeviceTypes() []DeviceType {
	out := make([]DeviceType, len(knownDeviceTypes))
	copy(out, knownDeviceTypes)
	return out
}

// ParseDeviceType maps a free-form tag to a DeviceType. Matching is case
// insensitive and treats '-' and ' ' like '_'. Unrecognised tags map to
// DeviceTypeUnknown.
func ParseDeviceType(s string) DeviceType {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, t := range knownDeviceTypes {
		if string(t) == norm {
			return t
		}
	}
	switch norm {
	case "SMARTTAG", "SMART_TAG", "GALAXY_SMART_TAG":
		return DeviceTypeSamsungSmartTag
	case "FINDMY":
		return DeviceTypeFindMy
	}
	return DeviceTypeUnknown
}

// RiskLevel is the engine's ordered belief that a device is following the
// user.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
)

// TrackingThreshold is the lowest level at which a device counts as
// actively tracking.
const TrackingThreshold = RiskMedium

func (l RiskLevel) String() string {
	switch l {
	case RiskNone:
		return "none"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "invalid"
	}
}

// IsTracking reports whether l is at or above TrackingThreshold.
func (l RiskLevel) IsTracking() bool {
	return l >= TrackingThreshold
}

// MarshalText encodes the level by name so API payloads stay readable.
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (l *RiskLevel) UnmarshalText(b []byte) error {
	for _, v := range []RiskLevel{RiskNone, RiskLow, RiskMedium, RiskHigh} {
		if v.String() == string(b) {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown risk level %q", b)
}

// Location is a position fix attached to a sighting. Accuracy is the
// horizontal accuracy radius in metres; smaller is better.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// Valid reports whether the coordinates are on the globe and the accuracy is
// non-negative.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180 &&
		l.Accuracy >= 0
}

// Sighting is one observed advertisement. Sightings are immutable once
// appended.
type Sighting struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
	Location  *Location `json:"location,omitempty"`
	RSSI      *int      `json:"rssi,omitempty"`

	// Type is the protocol the scanner classified the advertisement as. It
	// only seeds the device record on first sighting (or upgrades an UNKNOWN
	// one); it is not stored per sighting.
	Type DeviceType `json:"type,omitempty"`
}

// ProximityFunc maps a raw signal strength in dBm to a bounded proximity
// value in [0,1]. The engine never computes physical distance itself.
type ProximityFunc func(rssi int) float64

// Proximity applies fn to the sighting's RSSI. ok is false when the sighting
// carries no signal sample.
func (s Sighting) Proximity(fn ProximityFunc) (value float64, ok bool) {
	if s.RSSI == nil || fn == nil {
		return 0, false
	}
	return fn(*s.RSSI), true
}

// Device is the aggregate record kept per hardware address.
type Device struct {
	Address   string     `json:"address"`
	Type      DeviceType `json:"type"`
	Ignored   bool       `json:"ignored"`
	FirstSeen time.Time  `json:"first_seen"`
	// LastSeen is the newest sighting timestamp, not the newest append.
	LastSeen time.Time `json:"last_seen"`
	LastRSSI *int      `json:"last_rssi,omitempty"`

	RiskLevel RiskLevel `json:"risk_level"`
	// RiskComputedAt is nil until the risk has been computed once.
	RiskComputedAt *time.Time `json:"risk_computed_at,omitempty"`
}
