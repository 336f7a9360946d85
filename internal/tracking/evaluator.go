package tracking

import (
	"context"
	"time"

	"github.com/banshee-data/trackwatch/internal/monitoring"
	"github.com/banshee-data/trackwatch/internal/timeutil"
)

// RiskUpdate is published whenever a recomputation changes a device's
// level, including the first computation.
type RiskUpdate struct {
	Address    string      `json:"address"`
	Level      RiskLevel   `json:"level"`
	Previous   RiskLevel   `json:"previous"`
	ComputedAt time.Time   `json:"computed_at"`
	Stats      WindowStats `json:"stats"`
}

// RiskEvaluator turns window statistics into a RiskLevel behind a
// cache-or-recompute policy. Repeated evaluations of an unchanged device
// return the cached level without touching the sighting log.
//
// Two concurrent Evaluate calls for the same stale device may both
// recompute and both write the cache; the last write wins. Both compute
// from the same log, so the only cost is the duplicated scan.
type RiskEvaluator struct {
	registry *DeviceRegistry
	agg      *WindowAggregator
	clock    timeutil.Clock
	cfg      Config
	updates  *Hub[RiskUpdate]
}

// NewRiskEvaluator builds an evaluator. A nil clock uses wall-clock time.
func NewRiskEvaluator(registry *DeviceRegistry, agg *WindowAggregator, clock timeutil.Clock, cfg Config) *RiskEvaluator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RiskEvaluator{
		registry: registry,
		agg:      agg.WithConfig(cfg),
		clock:    clock,
		cfg:      cfg,
		updates:  NewHub[RiskUpdate](32),
	}
}

// WithConfig returns an evaluator sharing this one's registry, log, clock
// and update hub, but classifying with cfg.
func (e *RiskEvaluator) WithConfig(cfg Config) *RiskEvaluator {
	return &RiskEvaluator{
		registry: e.registry,
		agg:      e.agg.WithConfig(cfg),
		clock:    e.clock,
		cfg:      cfg,
		updates:  e.updates,
	}
}

// Config returns the evaluator's parameters.
func (e *RiskEvaluator) Config() Config { return e.cfg }

// isFresh reports whether the cached level of d may be returned at now. The
// cache must postdate the newest sighting: timestamps have one-second
// resolution, so a sighting in the same second as the computation may not
// have been part of it.
func (e *RiskEvaluator) isFresh(d Device, now time.Time) bool {
	if d.RiskComputedAt == nil {
		return false
	}
	at := *d.RiskComputedAt
	if !at.After(d.LastSeen) {
		return false
	}
	return now.Sub(at) <= e.cfg.ReevaluateInterval
}

// Evaluate returns the device's current risk level, recomputing and
// caching it when the cached value is stale. Ignored devices are evaluated
// like any other; ignoring only affects aggregate tracking queries.
func (e *RiskEvaluator) Evaluate(ctx context.Context, address string) (RiskLevel, error) {
	d, err := e.registry.Get(ctx, address)
	if err != nil {
		monitoring.RiskEvaluations.WithLabelValues("error").Inc()
		return RiskNone, err
	}
	now := Canonical(e.clock.Now())
	if e.isFresh(d, now) {
		monitoring.RiskEvaluations.WithLabelValues("cache_hit").Inc()
		return d.RiskLevel, nil
	}
	update, err := e.recompute(ctx, d, now)
	if err != nil {
		monitoring.RiskEvaluations.WithLabelValues("error").Inc()
		return RiskNone, err
	}
	monitoring.RiskEvaluations.WithLabelValues("recomputed").Inc()
	return update.Level, nil
}

// Recompute bypasses the cache, recomputes, writes the cache and returns
// the full result with its statistics.
func (e *RiskEvaluator) Recompute(ctx context.Context, address string) (RiskUpdate, error) {
	d, err := e.registry.Get(ctx, address)
	if err != nil {
		return RiskUpdate{}, err
	}
	return e.recompute(ctx, d, Canonical(e.clock.Now()))
}

func (e *RiskEvaluator) recompute(ctx context.Context, d Device, now time.Time) (RiskUpdate, error) {
	start := time.Now()
	stats, err := e.agg.Stats(ctx, d.Address, now)
	if err != nil {
		return RiskUpdate{}, err
	}
	level := e.cfg.Classify(stats)
	if err := e.registry.SetCachedRisk(ctx, d.Address, level, now); err != nil {
		return RiskUpdate{}, err
	}
	monitoring.RiskRecomputeDuration.Observe(time.Since(start).Seconds())

	update := RiskUpdate{
		Address:    d.Address,
		Level:      level,
		Previous:   d.RiskLevel,
		ComputedAt: now,
		Stats:      stats,
	}
	diagf("recomputed %s: count=%d locations=%d level=%s", d.Address, stats.Count, stats.DistinctLocations, level)
	if d.RiskComputedAt == nil || level != d.RiskLevel {
		e.updates.Publish(update)
	}
	return update, nil
}

// Subscribe observes level changes, optionally for a single address (empty
// for all devices).
func (e *RiskEvaluator) Subscribe(address string) *Subscription[RiskUpdate] {
	if address == "" {
		return e.updates.Subscribe(nil)
	}
	return e.updates.Subscribe(func(u RiskUpdate) bool { return u.Address == address })
}

// Unsubscribe releases a handle from Subscribe.
func (e *RiskEvaluator) Unsubscribe(sub *Subscription[RiskUpdate]) {
	e.updates.Unsubscribe(sub)
}

// Close ends all risk subscriptions.
func (e *RiskEvaluator) Close() {
	e.updates.Close()
}
