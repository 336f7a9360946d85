package tracking

import (
	"context"
	"time"
)

// DeviceChange is published when a user toggles a device's ignore flag.
type DeviceChange struct {
	Address string
	Ignored bool
}

// DeviceRegistry mediates access to per-device aggregate fields and the
// risk cache. It stores and returns whatever was last written; deciding
// whether a cached level is stale is RiskEvaluator's job.
type DeviceRegistry struct {
	store   Store
	changes *Hub[DeviceChange]
}

// NewDeviceRegistry wraps store.
func NewDeviceRegistry(store Store) *DeviceRegistry {
	return &DeviceRegistry{
		store:   store,
		changes: NewHub[DeviceChange](16),
	}
}

// Get returns the device record, or ErrUnknownDevice.
func (r *DeviceRegistry) Get(ctx context.Context, address string) (Device, error) {
	d, err := r.store.Device(ctx, address)
	return d, storageErr("get device", err)
}

// GetCachedRisk returns the cached level and when it was computed. at is
// nil when the risk was never computed; level is then RiskNone.
func (r *DeviceRegistry) GetCachedRisk(ctx context.Context, address string) (level RiskLevel, at *time.Time, err error) {
	d, err := r.Get(ctx, address)
	if err != nil {
		return RiskNone, nil, err
	}
	return d.RiskLevel, d.RiskComputedAt, nil
}

// SetCachedRisk overwrites the cache. Concurrent writers are not merged;
// the last write wins.
func (r *DeviceRegistry) SetCachedRisk(ctx context.Context, address string, level RiskLevel, at time.Time) error {
	return storageErr("set cached risk", r.store.SetCachedRisk(ctx, address, level, Canonical(at)))
}

// SetIgnoreFlag sets the user's ignore override. History is untouched.
func (r *DeviceRegistry) SetIgnoreFlag(ctx context.Context, address string, ignored bool) error {
	if err := r.store.SetIgnored(ctx, address, ignored); err != nil {
		return storageErr("set ignore flag", err)
	}
	diagf("device %s ignored=%v", address, ignored)
	r.changes.Publish(DeviceChange{Address: address, Ignored: ignored})
	return nil
}

// List returns every known device.
func (r *DeviceRegistry) List(ctx context.Context) ([]Device, error) {
	out, err := r.store.Devices(ctx)
	return out, storageErr("list devices", err)
}

// ListIgnored returns devices the user has ignored.
func (r *DeviceRegistry) ListIgnored(ctx context.Context) ([]Device, error) {
	out, err := r.store.IgnoredDevices(ctx)
	return out, storageErr("list ignored devices", err)
}

// ListActive returns devices with at least one sighting at or after since,
// ignored or not.
func (r *DeviceRegistry) ListActive(ctx context.Context, since time.Time) ([]Device, error) {
	out, err := r.store.DevicesSeenSince(ctx, Canonical(since))
	return out, storageErr("list active devices", err)
}

// TotalCount returns the number of known devices.
func (r *DeviceRegistry) TotalCount(ctx context.Context) (int, error) {
	all, err := r.List(ctx)
	return len(all), err
}

// CountIgnored returns the number of ignored devices.
func (r *DeviceRegistry) CountIgnored(ctx context.Context) (int, error) {
	ignored, err := r.ListIgnored(ctx)
	return len(ignored), err
}

// CountSeenSince returns how many devices were seen at or after since.
func (r *DeviceRegistry) CountSeenSince(ctx context.Context, since time.Time) (int, error) {
	active, err := r.ListActive(ctx, since)
	return len(active), err
}

// CountForTypes returns how many devices of any of the given types were
// seen at or after since.
func (r *DeviceRegistry) CountForTypes(ctx context.Context, since time.Time, types ...DeviceType) (int, error) {
	active, err := r.ListActive(ctx, since)
	if err != nil {
		return 0, err
	}
	want := make(map[DeviceType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	n := 0
	for _, d := range active {
		if want[d.Type] {
			n++
		}
	}
	return n, nil
}

// CountForType is CountForTypes for a single type.
func (r *DeviceRegistry) CountForType(ctx context.Context, t DeviceType, since time.Time) (int, error) {
	return r.CountForTypes(ctx, since, t)
}

// SubscribeChanges observes ignore-flag changes.
func (r *DeviceRegistry) SubscribeChanges() *Subscription[DeviceChange] {
	return r.changes.Subscribe(nil)
}

// UnsubscribeChanges releases a handle from SubscribeChanges.
func (r *DeviceRegistry) UnsubscribeChanges(sub *Subscription[DeviceChange]) {
	r.changes.Unsubscribe(sub)
}

// Close ends all change subscriptions.
func (r *DeviceRegistry) Close() {
	r.changes.Close()
}
