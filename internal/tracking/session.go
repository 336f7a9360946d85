package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/trackwatch/internal/monitoring"
	"github.com/banshee-data/trackwatch/internal/timeutil"
)

// TrackingUpdate is the settled answer to "which devices are following me".
type TrackingUpdate struct {
	At      time.Time `json:"at"`
	Since   time.Time `json:"since"`
	Count   int       `json:"count"`
	Devices []Device  `json:"devices"`
}

// SessionTracker answers active-tracking queries and pushes the answer to
// observers as sightings and ignore toggles arrive.
type SessionTracker struct {
	log       *EventLog
	registry  *DeviceRegistry
	evaluator *RiskEvaluator
	clock     timeutil.Clock
	window    time.Duration

	// SettleDelay is how long Run waits after the first change signal
	// before recomputing, so bursts of sightings produce one update.
	SettleDelay time.Duration

	updates *Hub[TrackingUpdate]
	dirty   chan struct{}

	mu   sync.Mutex
	last *TrackingUpdate
}

// NewSessionTracker builds a tracker whose live view covers the evaluator's
// relevance window.
func NewSessionTracker(log *EventLog, registry *DeviceRegistry, evaluator *RiskEvaluator, clock timeutil.Clock) *SessionTracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SessionTracker{
		log:         log,
		registry:    registry,
		evaluator:   evaluator,
		clock:       clock,
		window:      evaluator.Config().RelevanceWindow,
		SettleDelay: 250 * time.Millisecond,
		updates:     NewHub[TrackingUpdate](1),
		dirty:       make(chan struct{}, 1),
	}
}

// ActiveTrackingDevices returns devices seen at or after since that are not
// ignored and whose current risk is at or above TrackingThreshold. Devices
// are ordered most recently seen first.
func (t *SessionTracker) ActiveTrackingDevices(ctx context.Context, since time.Time) ([]Device, error) {
	active, err := t.registry.ListActive(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(active))
	for _, d := range active {
		if d.Ignored {
			continue
		}
		level, err := t.evaluator.Evaluate(ctx, d.Address)
		if err != nil {
			return nil, err
		}
		if !level.IsTracking() {
			continue
		}
		// Evaluate may have rewritten the cache; report the stored level
		// and its computation time together.
		fresh, err := t.registry.Get(ctx, d.Address)
		if err != nil {
			return nil, err
		}
		out = append(out, fresh)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// ActiveTrackingCount is len(ActiveTrackingDevices(since)).
func (t *SessionTracker) ActiveTrackingCount(ctx context.Context, since time.Time) (int, error) {
	devices, err := t.ActiveTrackingDevices(ctx, since)
	return len(devices), err
}

// CountNotTracking returns devices seen at or after since that are neither
// ignored nor at TrackingThreshold.
func (t *SessionTracker) CountNotTracking(ctx context.Context, since time.Time) (int, error) {
	active, err := t.registry.ListActive(ctx, since)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range active {
		if d.Ignored {
			continue
		}
		level, err := t.evaluator.Evaluate(ctx, d.Address)
		if err != nil {
			return 0, err
		}
		if !level.IsTracking() {
			n++
		}
	}
	return n, nil
}

// Refresh computes the tracking set over the relevance window ending now
// and publishes it to subscribers.
func (t *SessionTracker) Refresh(ctx context.Context) (TrackingUpdate, error) {
	now := Canonical(t.clock.Now())
	since := now.Add(-t.window)
	devices, err := t.ActiveTrackingDevices(ctx, since)
	if err != nil {
		return TrackingUpdate{}, err
	}
	update := TrackingUpdate{At: now, Since: since, Count: len(devices), Devices: devices}

	t.mu.Lock()
	t.last = &update
	t.mu.Unlock()

	monitoring.TrackingDevices.Set(float64(update.Count))
	t.updates.Publish(update)
	return update, nil
}

// Last returns the most recently published update, if any.
func (t *SessionTracker) Last() (TrackingUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return TrackingUpdate{}, false
	}
	return *t.last, true
}

// Subscribe observes tracking updates. Each subscriber holds at most one
// pending update: a slow reader skips intermediate states but always gets
// the latest.
func (t *SessionTracker) Subscribe() *Subscription[TrackingUpdate] {
	return t.updates.Subscribe(nil)
}

// Unsubscribe releases a handle from Subscribe.
func (t *SessionTracker) Unsubscribe(sub *Subscription[TrackingUpdate]) {
	t.updates.Unsubscribe(sub)
}

// MarkDirty schedules a recomputation in Run. Calls coalesce.
func (t *SessionTracker) MarkDirty() {
	select {
	case t.dirty <- struct{}{}:
	default:
	}
}

// Run keeps subscribers up to date until ctx is cancelled. It publishes an
// initial state, then recomputes after sightings or ignore toggles, waiting
// SettleDelay to absorb bursts. Refresh failures are logged and retried on
// the next change.
func (t *SessionTracker) Run(ctx context.Context) error {
	sightings := t.log.Subscribe(nil)
	defer t.log.Unsubscribe(sightings)
	changes := t.registry.SubscribeChanges()
	defer t.registry.UnsubscribeChanges(changes)

	t.MarkDirty()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-sightings.C:
			if !ok {
				return nil
			}
			t.MarkDirty()
		case _, ok := <-changes.C:
			if !ok {
				return nil
			}
			t.MarkDirty()
		case <-t.dirty:
			if t.SettleDelay > 0 {
				timer := time.NewTimer(t.SettleDelay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
			if _, err := t.Refresh(ctx); err != nil {
				opsf("tracking refresh failed: %v", err)
			}
		}
	}
}

// Close ends all tracking subscriptions.
func (t *SessionTracker) Close() {
	t.updates.Close()
}
