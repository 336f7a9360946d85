package tracking

import (
	"context"
	"time"
)

// Store is the data-access interface the engine consumes. Implementations
// must be durable and safe for concurrent use.
//
// InsertSighting must make device creation and sighting insertion a single
// atomic unit: no reader may observe a device without at least one sighting.
// Per-device queries for an address that was never recorded return
// ErrUnknownDevice. All time arguments are canonical (see Canonical), and
// every "since" bound is inclusive.
type Store interface {
	// InsertSighting creates the device if absent and appends s. The device's
	// LastSeen advances to s.Timestamp only if it is newer. A sighting ID
	// already stored is rejected with ErrMalformedSighting and changes
	// nothing.
	InsertSighting(ctx context.Context, s Sighting) error

	Device(ctx context.Context, address string) (Device, error)
	Devices(ctx context.Context) ([]Device, error)
	// DevicesSeenSince returns devices with at least one sighting at or
	// after since.
	DevicesSeenSince(ctx context.Context, since time.Time) ([]Device, error)
	IgnoredDevices(ctx context.Context) ([]Device, error)

	SetIgnored(ctx context.Context, address string, ignored bool) error
	SetCachedRisk(ctx context.Context, address string, level RiskLevel, at time.Time) error

	// Sighting queries return results ordered by timestamp then ID.
	SightingsSince(ctx context.Context, since time.Time) ([]Sighting, error)
	DeviceSightingsSince(ctx context.Context, address string, since time.Time) ([]Sighting, error)
	// DeviceSightingsSinceWithAccuracyLimit returns only sightings carrying
	// a location whose accuracy is at most maxAccuracy.
	DeviceSightingsSinceWithAccuracyLimit(ctx context.Context, address string, since time.Time, maxAccuracy float64) ([]Sighting, error)
	CountSince(ctx context.Context, address string, since time.Time) (int, error)
}
