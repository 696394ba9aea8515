package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emperorhan/exposure-controller/internal/metrics"
	"github.com/emperorhan/exposure-controller/internal/photodetector"
)

// RoundObserver is notified after every committed round, outside the
// controller lock.
type RoundObserver interface {
	ObserveRound(ctx context.Context, result RoundResult)
}

// RoundObserverFunc adapts a function to RoundObserver.
type RoundObserverFunc func(ctx context.Context, result RoundResult)

func (f RoundObserverFunc) ObserveRound(ctx context.Context, result RoundResult) { f(ctx, result) }

// Runner drives the controller on a fixed schedule, cycling through every
// configured illumination condition once per tick.
type Runner struct {
	controller  *Controller
	illuminator photodetector.Illuminator
	interval    time.Duration
	observers   []RoundObserver
	logger      *slog.Logger
}

func NewRunner(controller *Controller, illuminator photodetector.Illuminator, interval time.Duration, logger *slog.Logger) *Runner {
	l := logger.With("component", "runner")
	if illuminator == nil {
		illuminator = photodetector.NoopIlluminator{Logger: l}
	}
	return &Runner{
		controller:  controller,
		illuminator: illuminator,
		interval:    interval,
		logger:      l,
	}
}

func (r *Runner) WithObservers(observers ...RoundObserver) *Runner {
	r.observers = append(r.observers, observers...)
	return r
}

func (r *Runner) Run(ctx context.Context) error {
	if r.controller == nil {
		return ErrNilController
	}
	r.logger.Info("runner started",
		"interval", r.interval,
		"sensors", len(r.controller.Sensors()),
		"conditions", len(r.controller.Conditions()),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on start, then on interval.
	if err := r.RunCycle(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunCycle(ctx); err != nil {
				return err
			}
		}
	}
}

// RunCycle runs one round per condition. An illumination failure skips that
// condition for this cycle; a round error halts the runner.
func (r *Runner) RunCycle(ctx context.Context) error {
	for _, condition := range r.controller.Conditions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.illuminator.Illuminate(ctx, condition); err != nil {
			metrics.RoundErrors.WithLabelValues(condition.String()).Inc()
			r.logger.Warn("illumination failed, skipping condition", "condition", condition, "error", err)
			continue
		}
		result, err := r.controller.RunRound(ctx, condition)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.RoundErrors.WithLabelValues(condition.String()).Inc()
			return fmt.Errorf("round %s: %w", condition, err)
		}
		for _, o := range r.observers {
			o.ObserveRound(ctx, result)
		}
	}
	return nil
}
