package autotune

import (
	"github.com/emperorhan/exposure-controller/internal/history"
	"github.com/emperorhan/exposure-controller/internal/lattice"
	"github.com/emperorhan/exposure-controller/internal/overflow"
)

// Config is the public decision engine configuration contract.
type Config = AutoTuneConfig

// Diagnostics is the public decision trace emitted for each evaluation.
type Diagnostics = autoTuneDiagnostics

// Decision labels reported in Diagnostics.Decision.
const (
	DecisionHoldUnsettled   = decisionHoldUnsettled
	DecisionApplyDecrease   = decisionApplyDecrease
	DecisionClampedDecrease = decisionClampedDecrease
	DecisionApplyIncrease   = decisionApplyIncrease
	DecisionClampedIncrease = decisionClampedIncrease
	DecisionHold            = decisionHold
)

// DefaultConfig returns the guard band the TSL2591 array was tuned with.
func DefaultConfig() Config {
	return Config{GuardBand: defaultGuardBand}
}

// Engine is the public decision engine entrypoint.
type Engine struct {
	engine *autoTuneEngine
}

func New(l *lattice.Lattice, p *overflow.Predictor, cfg Config) (*Engine, error) {
	engine, err := newAutoTuneEngine(l, p, cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{engine: engine}, nil
}

// Resolve evaluates a channel at index current with history hist and returns
// the index to apply on the next round.
func (e *Engine) Resolve(current int, hist *history.Buffer) (int, Diagnostics) {
	if e == nil || e.engine == nil || hist == nil {
		return current, Diagnostics{Decision: decisionHoldUnsettled, IndexBefore: current, IndexAfter: current}
	}
	return e.engine.resolve(current, hist)
}

func (e *Engine) GuardBand() float64 {
	if e == nil || e.engine == nil {
		return 0
	}
	return e.engine.guardBand
}

// Switched reports whether a decision changed the setting index.
func (d Diagnostics) Switched() bool {
	return d.IndexAfter != d.IndexBefore
}
