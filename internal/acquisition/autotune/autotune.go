package autotune

import (
	"fmt"

	"github.com/emperorhan/exposure-controller/internal/history"
	"github.com/emperorhan/exposure-controller/internal/lattice"
	"github.com/emperorhan/exposure-controller/internal/overflow"
)

const defaultGuardBand = 5000

type AutoTuneConfig struct {
	// GuardBand is added to every projected value before the overflow check.
	GuardBand float64
}

type autoTuneDiagnostics struct {
	Signal            string
	Decision          string
	Settled           bool
	Average           float64
	Projected         float64
	Multiplier        float64
	Predicted         float64
	Ceiling           float64
	IndexBefore       int
	IndexAfter        int
	GainBefore        int
	IntegrationBefore int
	GainAfter         int
	IntegrationAfter  int
	ValidCountBefore  int
	ValidCountAfter   int
	DecisionOutputs   string
	DecisionSequence  int64
}

type autoTuneSignal string

const (
	autoTuneSignalHold     autoTuneSignal = "hold"
	autoTuneSignalIncrease autoTuneSignal = "increase"
	autoTuneSignalDecrease autoTuneSignal = "decrease"
)

const (
	decisionHoldUnsettled   = "hold_unsettled"
	decisionApplyDecrease   = "apply_decrease"
	decisionClampedDecrease = "clamped_decrease"
	decisionApplyIncrease   = "apply_increase"
	decisionClampedIncrease = "clamped_increase"
	decisionHold            = "hold"
)

type autoTuneEngine struct {
	lattice          *lattice.Lattice
	predictor        *overflow.Predictor
	guardBand        float64
	decisionSequence int64
}

func newAutoTuneEngine(l *lattice.Lattice, p *overflow.Predictor, cfg AutoTuneConfig) (*autoTuneEngine, error) {
	if l == nil {
		return nil, fmt.Errorf("autotune: lattice is nil")
	}
	if p == nil {
		return nil, fmt.Errorf("autotune: overflow predictor is nil")
	}
	if p.Levels() != l.IntegrationLevels() {
		return nil, fmt.Errorf("autotune: %d overflow ceilings for %d integration levels", p.Levels(), l.IntegrationLevels())
	}
	if cfg.GuardBand < 0 {
		return nil, fmt.Errorf("autotune: guard band must not be negative, got %v", cfg.GuardBand)
	}
	return &autoTuneEngine{
		lattice:   l,
		predictor: p,
		guardBand: cfg.GuardBand,
	}, nil
}

// resolve evaluates one channel. It returns the index the channel should use
// from the next round on and resets hist only when that index differs from current.
func (a *autoTuneEngine) resolve(current int, hist *history.Buffer) (int, autoTuneDiagnostics) {
	current = a.lattice.Clamp(current)
	gain, integration := a.lattice.Decompose(current)
	diagnostics := autoTuneDiagnostics{
		Signal:            string(autoTuneSignalHold),
		Decision:          decisionHoldUnsettled,
		IndexBefore:       current,
		IndexAfter:        current,
		GainBefore:        gain,
		IntegrationBefore: integration,
		GainAfter:         gain,
		IntegrationAfter:  integration,
		ValidCountBefore:  hist.ValidCount(),
		ValidCountAfter:   hist.ValidCount(),
	}

	avg, settled := hist.Average()
	if !settled {
		return current, a.enrich(diagnostics)
	}
	diagnostics.Settled = true
	diagnostics.Average = avg
	diagnostics.Projected = avg + a.guardBand
	diagnostics.Ceiling = a.predictor.Ceiling(integration)

	if a.predictor.WouldOverflow(diagnostics.Projected, integration) {
		diagnostics.Signal = string(autoTuneSignalDecrease)
		next := a.lattice.Step(current, lattice.Down)
		if next == current {
			diagnostics.Decision = decisionClampedDecrease
			return current, a.enrich(diagnostics)
		}
		diagnostics.Decision = decisionApplyDecrease
		return a.apply(next, hist, diagnostics)
	}

	up := a.lattice.Step(current, lattice.Up)
	upIntegration := a.lattice.IntegrationLevel(up)
	diagnostics.Multiplier = a.lattice.Multiplier(current, up)
	diagnostics.Predicted = avg * diagnostics.Multiplier
	if a.predictor.WouldOverflow(diagnostics.Predicted+a.guardBand, upIntegration) {
		diagnostics.Decision = decisionHold
		return current, a.enrich(diagnostics)
	}

	diagnostics.Signal = string(autoTuneSignalIncrease)
	diagnostics.Ceiling = a.predictor.Ceiling(upIntegration)
	if up == current {
		diagnostics.Decision = decisionClampedIncrease
		return current, a.enrich(diagnostics)
	}
	diagnostics.Decision = decisionApplyIncrease
	return a.apply(up, hist, diagnostics)
}

func (a *autoTuneEngine) apply(next int, hist *history.Buffer, diagnostics autoTuneDiagnostics) (int, autoTuneDiagnostics) {
	hist.Reset()
	diagnostics.IndexAfter = next
	diagnostics.GainAfter, diagnostics.IntegrationAfter = a.lattice.Decompose(next)
	diagnostics.ValidCountAfter = hist.ValidCount()
	return next, a.enrich(diagnostics)
}

func (a *autoTuneEngine) enrich(diagnostics autoTuneDiagnostics) autoTuneDiagnostics {
	a.decisionSequence++
	diagnostics.DecisionSequence = a.decisionSequence
	diagnostics.DecisionOutputs = fmt.Sprintf("decision=%s index_before=%d index_after=%d valid_before=%d valid_after=%d",
		diagnostics.Decision, diagnostics.IndexBefore, diagnostics.IndexAfter, diagnostics.ValidCountBefore, diagnostics.ValidCountAfter)
	return diagnostics
}
