package tracking

import (
	"github.com/banshee-data/trackwatch/internal/timeutil"
)

// Engine wires the components over one Store. The fields may be used
// directly; Engine adds no behaviour beyond construction and Close.
type Engine struct {
	Log       *EventLog
	Registry  *DeviceRegistry
	Evaluator *RiskEvaluator
	Session   *SessionTracker
	Worker    *RiskWorker
}

// NewEngine validates cfg and builds the components. A nil clock uses
// wall-clock time.
func NewEngine(store Store, cfg Config, clock timeutil.Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := NewEventLog(store)
	registry := NewDeviceRegistry(store)
	evaluator := NewRiskEvaluator(registry, NewWindowAggregator(log, cfg), clock, cfg)
	session := NewSessionTracker(log, registry, evaluator, clock)
	return &Engine{
		Log:       log,
		Registry:  registry,
		Evaluator: evaluator,
		Session:   session,
		Worker:    NewRiskWorker(evaluator, registry, session, clock),
	}, nil
}

// Close ends every subscription held by the engine's hubs.
func (e *Engine) Close() {
	e.Session.Close()
	e.Evaluator.Close()
	e.Registry.Close()
	e.Log.Close()
}
