package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/banshee-data/trackwatch/internal/monitoring"
)

// maxAddressLen bounds identities; real addresses and public-key digests
// are far shorter.
const maxAddressLen = 128

// EventLog is the append-only sighting log and the engine's single
// ingestion entry point. Every successful append is published to sighting
// subscribers after the store has committed it.
type EventLog struct {
	store     Store
	sightings *Hub[Sighting]
}

// NewEventLog wraps store.
func NewEventLog(store Store) *EventLog {
	return &EventLog{
		store:     store,
		sightings: NewHub[Sighting](64),
	}
}

// ValidateSighting checks the caller contract: a non-empty identity without
// whitespace or control characters and a non-zero timestamp.
func ValidateSighting(s Sighting) error {
	addr := s.Address
	if addr == "" {
		return fmt.Errorf("%w: missing device address", ErrMalformedSighting)
	}
	if len(addr) > maxAddressLen {
		return fmt.Errorf("%w: address longer than %d bytes", ErrMalformedSighting, maxAddressLen)
	}
	if strings.IndexFunc(addr, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: address %q contains whitespace or control characters", ErrMalformedSighting, addr)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp for %q", ErrMalformedSighting, addr)
	}
	return nil
}

// Append records one sighting, creating the device if needed, and returns
// the stored form (canonical timestamp, generated ID).
func (l *EventLog) Append(ctx context.Context, s Sighting) (Sighting, error) {
	if err := ValidateSighting(s); err != nil {
		monitoring.SightingsIngested.WithLabelValues("malformed").Inc()
		return Sighting{}, err
	}
	s.Timestamp = Canonical(s.Timestamp)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Type == "" {
		s.Type = DeviceTypeUnknown
	}
	if s.Location != nil && !s.Location.Valid() {
		// An impossible fix still proves the device was seen; keep the
		// sighting and drop the position.
		opsf("dropping invalid location %+v for %s", *s.Location, s.Address)
		s.Location = nil
	}

	if err := l.store.InsertSighting(ctx, s); err != nil {
		monitoring.SightingsIngested.WithLabelValues("storage_error").Inc()
		return Sighting{}, storageErr("insert sighting", err)
	}
	monitoring.SightingsIngested.WithLabelValues("inserted").Inc()
	tracef("appended %s at %s", s.Address, s.Timestamp.Format(time.RFC3339))

	l.sightings.Publish(s)
	return s, nil
}

// AppendBatch appends every sighting it can. Rejected entries are reported
// with their index; they never stop the rest of the batch.
func (l *EventLog) AppendBatch(ctx context.Context, batch []Sighting) BatchResult {
	res := BatchResult{Inserted: make([]Sighting, 0, len(batch))}
	for i, s := range batch {
		stored, err := l.Append(ctx, s)
		if err != nil {
			opsf("batch entry %d rejected: %v", i, err)
			res.Failures = append(res.Failures, BatchFailure{Index: i, Address: s.Address, Err: err})
			continue
		}
		res.Inserted = append(res.Inserted, stored)
	}
	return res
}

// QueryAllSince returns every sighting at or after since, for all devices.
func (l *EventLog) QueryAllSince(ctx context.Context, since time.Time) ([]Sighting, error) {
	out, err := l.store.SightingsSince(ctx, Canonical(since))
	return out, storageErr("query sightings", err)
}

// QueryAllSinceString is QueryAllSince for an external time string. A nil
// string means the full history.
func (l *EventLog) QueryAllSinceString(ctx context.Context, since *string) ([]Sighting, error) {
	if since == nil {
		return l.QueryAllSince(ctx, time.Time{})
	}
	t, err := ParseTimestamp(*since)
	if err != nil {
		return nil, err
	}
	return l.QueryAllSince(ctx, t)
}

// QuerySince returns the device's sightings at or after since.
func (l *EventLog) QuerySince(ctx context.Context, address string, since time.Time) ([]Sighting, error) {
	out, err := l.store.DeviceSightingsSince(ctx, address, Canonical(since))
	return out, storageErr("query device sightings", err)
}

// QuerySinceWithAccuracyLimit returns the device's located sightings at or
// after since whose accuracy is at most maxAccuracy metres.
func (l *EventLog) QuerySinceWithAccuracyLimit(ctx context.Context, address string, since time.Time, maxAccuracy float64) ([]Sighting, error) {
	out, err := l.store.DeviceSightingsSinceWithAccuracyLimit(ctx, address, Canonical(since), maxAccuracy)
	return out, storageErr("query located sightings", err)
}

// CountSince returns the exact number of the device's sightings with
// timestamp >= since.
func (l *EventLog) CountSince(ctx context.Context, address string, since time.Time) (int, error) {
	n, err := l.store.CountSince(ctx, address, Canonical(since))
	return n, storageErr("count sightings", err)
}

// Subscribe observes appended sightings matching filter (nil for all).
func (l *EventLog) Subscribe(filter func(Sighting) bool) *Subscription[Sighting] {
	return l.sightings.Subscribe(filter)
}

// SubscribeDevice observes sightings of a single address.
func (l *EventLog) SubscribeDevice(address string) *Subscription[Sighting] {
	return l.sightings.Subscribe(func(s Sighting) bool { return s.Address == address })
}

// Unsubscribe releases a handle from Subscribe or SubscribeDevice.
func (l *EventLog) Unsubscribe(sub *Subscription[Sighting]) {
	l.sightings.Unsubscribe(sub)
}

// Close ends all sighting subscriptions.
func (l *EventLog) Close() {
	l.sightings.Close()
}
