package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/trackwatch/internal/timeutil"
)

// RiskWorker periodically re-evaluates every device seen within Window so
// that cached levels age out even when no request asks for them, then
// refreshes the tracking session.
type RiskWorker struct {
	Evaluator *RiskEvaluator
	Registry  *DeviceRegistry
	Session   *SessionTracker
	Clock     timeutil.Clock

	Interval time.Duration // how often to run
	Window   time.Duration // devices last seen within this are revisited
	StopChan chan struct{}
}

// NewRiskWorker returns a worker running every fifteen minutes over the
// evaluator's relevance window. session may be nil.
func NewRiskWorker(evaluator *RiskEvaluator, registry *DeviceRegistry, session *SessionTracker, clock timeutil.Clock) *RiskWorker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RiskWorker{
		Evaluator: evaluator,
		Registry:  registry,
		Session:   session,
		Clock:     clock,
		Interval:  15 * time.Minute,
		Window:    evaluator.Config().RelevanceWindow,
		StopChan:  make(chan struct{}),
	}
}

// Start runs the periodic loop in a goroutine.
func (w *RiskWorker) Start() {
	ticker := w.Clock.NewTicker(w.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if _, err := w.RunOnce(context.Background()); err != nil {
					opsf("risk worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *RiskWorker) Stop() {
	close(w.StopChan)
}

// RunOnce evaluates each recently seen device and returns how many were
// visited. A device removed between listing and evaluation is skipped.
func (w *RiskWorker) RunOnce(ctx context.Context) (int, error) {
	since := Canonical(w.Clock.Now()).Add(-w.Window)
	devices, err := w.Registry.ListActive(ctx, since)
	if err != nil {
		return 0, err
	}
	visited := 0
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			return visited, err
		}
		if _, err := w.Evaluator.Evaluate(ctx, d.Address); err != nil {
			if errors.Is(err, ErrUnknownDevice) {
				continue
			}
			return visited, err
		}
		visited++
	}
	diagf("risk worker evaluated %d devices since %s", visited, since.Format(time.RFC3339))
	if w.Session != nil {
		if _, err := w.Session.Refresh(ctx); err != nil {
			return visited, err
		}
	}
	return visited, nil
}
