package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/emperorhan/exposure-controller/internal/acquisition/autotune"
	"github.com/emperorhan/exposure-controller/internal/alert"
)

// AlertObserver raises channel alerts from round outcomes: a channel turning
// stale, a stale channel recovering, and saturation at the lowest setting.
type AlertObserver struct {
	alerter alert.Alerter
	logger  *slog.Logger
}

func NewAlertObserver(alerter alert.Alerter, logger *slog.Logger) *AlertObserver {
	return &AlertObserver{alerter: alerter, logger: logger.With("component", "alert_observer")}
}

func (a *AlertObserver) ObserveRound(ctx context.Context, result RoundResult) {
	for _, o := range result.Outcomes {
		msg, ok := alertFor(o)
		if !ok {
			continue
		}
		msg.Fields["round_id"] = result.ID
		if err := a.alerter.Send(ctx, msg); err != nil {
			a.logger.Warn("channel alert failed", "type", msg.Type, "channel", o.Key.String(), "error", err)
		}
	}
}

func alertFor(o ChannelOutcome) (alert.Alert, bool) {
	base := alert.Alert{
		Sensor:    o.Key.Sensor.String(),
		Condition: o.Key.Condition.String(),
		Fields:    map[string]string{},
	}
	switch {
	case o.BecameStale:
		base.Type = alert.AlertTypeStale
		base.Title = "Channel stale"
		base.Message = fmt.Sprintf("no fresh reading for %d rounds", o.RoundsSinceSuccess)
		base.Fields["rounds_since_success"] = strconv.Itoa(o.RoundsSinceSuccess)
		if o.FailedPhase != "" {
			base.Fields["phase"] = o.FailedPhase
		}
		if o.Err != nil {
			base.Fields["last_error"] = o.Err.Error()
		}
		return base, true
	case o.Recovered:
		base.Type = alert.AlertTypeRecovery
		base.Title = "Channel recovered"
		base.Message = "fresh reading received"
		return base, true
	case o.Decision != nil && o.Decision.Decision == autotune.DecisionClampedDecrease:
		base.Type = alert.AlertTypeSaturated
		base.Title = "Saturated at lowest setting"
		base.Message = fmt.Sprintf("average %.0f overflows at index %d", o.Decision.Average, o.Decision.IndexAfter)
		base.Fields["index"] = strconv.Itoa(o.Decision.IndexAfter)
		return base, true
	}
	return alert.Alert{}, false
}
