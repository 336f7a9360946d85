package tracking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory Store. A single lock covers devices
// and sightings so that device creation and the first sighting become
// visible together.
type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	sightings map[string][]Sighting // per address, append order
	ids       map[string]struct{}

	// FailWith, when set, is returned by every call. Tests use it to
	// simulate an unavailable backend.
	FailWith error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   make(map[string]*Device),
		sightings: make(map[string][]Sighting),
		ids:       make(map[string]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) InsertSighting(_ context.Context, s Sighting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if _, dup := m.ids[s.ID]; dup {
		return fmt.Errorf("%w: duplicate sighting id %q", ErrMalformedSighting, s.ID)
	}

	d, ok := m.devices[s.Address]
	if !ok {
		typ := s.Type
		if typ == "" {
			typ = DeviceTypeUnknown
		}
		d = &Device{
			Address:   s.Address,
			Type:      typ,
			FirstSeen: s.Timestamp,
			LastSeen:  s.Timestamp,
		}
		m.devices[s.Address] = d
	}
	if d.Type == DeviceTypeUnknown && s.Type != "" && s.Type != DeviceTypeUnknown {
		d.Type = s.Type
	}
	if s.Timestamp.Before(d.FirstSeen) {
		d.FirstSeen = s.Timestamp
	}
	if !s.Timestamp.Before(d.LastSeen) {
		d.LastSeen = s.Timestamp
		if s.RSSI != nil {
			rssi := *s.RSSI
			d.LastRSSI = &rssi
		}
	}
	m.sightings[s.Address] = append(m.sightings[s.Address], cloneSighting(s))
	m.ids[s.ID] = struct{}{}
	return nil
}

func (m *MemoryStore) Device(_ context.Context, address string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return Device{}, m.FailWith
	}
	d, ok := m.devices[address]
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, address)
	}
	return cloneDevice(d), nil
}

func (m *MemoryStore) Devices(_ context.Context) ([]Device, error) {
	return m.filterDevices(func(*Device) bool { return true })
}

func (m *MemoryStore) DevicesSeenSince(_ context.Context, since time.Time) ([]Device, error) {
	// LastSeen is the maximum sighting timestamp, so this is equivalent to
	// "has a sighting at or after since".
	return m.filterDevices(func(d *Device) bool { return !d.LastSeen.Before(since) })
}

func (m *MemoryStore) IgnoredDevices(_ context.Context) ([]Device, error) {
	return m.filterDevices(func(d *Device) bool { return d.Ignored })
}

func (m *MemoryStore) filterDevices(keep func(*Device) bool) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		if keep(d) {
			out = append(out, cloneDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (m *MemoryStore) SetIgnored(_ context.Context, address string, ignored bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	d, ok := m.devices[address]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, address)
	}
	d.Ignored = ignored
	return nil
}

func (m *MemoryStore) SetCachedRisk(_ context.Context, address string, level RiskLevel, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	d, ok := m.devices[address]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, address)
	}
	d.RiskLevel = level
	d.RiskComputedAt = &at
	return nil
}

func (m *MemoryStore) SightingsSince(_ context.Context, since time.Time) ([]Sighting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var out []Sighting
	for _, list := range m.sightings {
		for _, s := range list {
			if !s.Timestamp.Before(since) {
				out = append(out, cloneSighting(s))
			}
		}
	}
	sortSightings(out)
	return out, nil
}

func (m *MemoryStore) DeviceSightingsSince(_ context.Context, address string, since time.Time) ([]Sighting, error) {
	return m.deviceSightings(address, func(s Sighting) bool { return !s.Timestamp.Before(since) })
}

func (m *MemoryStore) DeviceSightingsSinceWithAccuracyLimit(_ context.Context, address string, since time.Time, maxAccuracy float64) ([]Sighting, error) {
	return m.deviceSightings(address, func(s Sighting) bool {
		return !s.Timestamp.Before(since) && s.Location != nil && s.Location.Accuracy <= maxAccuracy
	})
}

func (m *MemoryStore) CountSince(ctx context.Context, address string, since time.Time) (int, error) {
	list, err := m.DeviceSightingsSince(ctx, address, since)
	return len(list), err
}

func (m *MemoryStore) deviceSightings(address string, keep func(Sighting) bool) ([]Sighting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if _, ok := m.devices[address]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, address)
	}
	var out []Sighting
	for _, s := range m.sightings[address] {
		if keep(s) {
			out = append(out, cloneSighting(s))
		}
	}
	sortSightings(out)
	return out, nil
}

func sortSightings(list []Sighting) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		return list[i].ID < list[j].ID
	})
}

func cloneDevice(d *Device) Device {
	out := *d
	if d.LastRSSI != nil {
		v := *d.LastRSSI
		out.LastRSSI = &v
	}
	if d.RiskComputedAt != nil {
		v := *d.RiskComputedAt
		out.RiskComputedAt = &v
	}
	return out
}

func cloneSighting(s Sighting) Sighting {
	out := s
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}
	if s.RSSI != nil {
		v := *s.RSSI
		out.RSSI = &v
	}
	// Type is ingestion metadata and is not part of the stored record.
	out.Type = ""
	return out
}
