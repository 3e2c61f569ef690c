// Package exitrules evaluates the layered exit conditions bound to each
// position and resolves simultaneous firings into at most one actionable
// signal per pass. Every fired condition is still reported so the alerting
// layer sees the full picture.
package exitrules

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// Static priorities, lower = more important. Used only to break ties between
// signals that share an urgency rank.
const (
	priorityStopLoss     = 1
	priorityExpiration   = 2
	priorityProfitTarget = 3
	priorityTrailingStop = 4
	priorityBreakeven    = 5
	priorityTimeDecay    = 6
)

// Config holds the per-position default thresholds.
type Config struct {
	ProfitTargetPct    float64 // close when PnL% reaches this
	StopLossPct        float64 // close when PnL% reaches minus this
	TrailingStopPct    float64 // drop from high-water mark
	TimeDecayMinDTE    float64 // days-to-expiration floor for losing positions
	ExpirationWindowHr float64 // force-exit window before expiry, hours
}

// DefaultConfig mirrors a conservative short-premium style rule set.
func DefaultConfig() Config {
	return Config{
		ProfitTargetPct:    50,
		StopLossPct:        50,
		TrailingStopPct:    20,
		TimeDecayMinDTE:    5,
		ExpirationWindowHr: 4,
	}
}

// Context is the position state the lifecycle manager supplies for one
// evaluation pass.
type Context struct {
	CurrentPrice     float64
	PnLPercent       float64
	DaysToExpiration float64
	HoldingDuration  time.Duration
	Now              time.Time
}

// Evaluator builds and evaluates exit conditions.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator with the given default thresholds.
func NewEvaluator(cfg Config, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "exit_evaluator")),
	}
}

// ConditionsFor returns the default condition set for a new position. The
// breakeven stop starts disabled; it arms itself the first time the position
// turns profitable.
func (e *Evaluator) ConditionsFor(entryPrice float64) []*domain.ExitCondition {
	return []*domain.ExitCondition{
		{Kind: domain.ExitStopLoss, State: domain.ExitStateArmed, Priority: priorityStopLoss, Threshold: e.cfg.StopLossPct},
		{Kind: domain.ExitExpiration, State: domain.ExitStateArmed, Priority: priorityExpiration, Threshold: e.cfg.ExpirationWindowHr},
		{Kind: domain.ExitProfitTarget, State: domain.ExitStateArmed, Priority: priorityProfitTarget, Threshold: e.cfg.ProfitTargetPct},
		{Kind: domain.ExitTrailingStop, State: domain.ExitStateArmed, Priority: priorityTrailingStop, Threshold: e.cfg.TrailingStopPct, HighWaterMark: entryPrice},
		{Kind: domain.ExitBreakevenStop, State: domain.ExitStateDisabled, Priority: priorityBreakeven},
		{Kind: domain.ExitTimeDecay, State: domain.ExitStateArmed, Priority: priorityTimeDecay, Threshold: e.cfg.TimeDecayMinDTE},
	}
}

// Evaluate runs every condition on the position against ctx. It returns all
// fired signals (for alerting) and the single top-ranked signal to act on,
// or nil when nothing fired. Resolution order: urgency rank first, then the
// condition's static priority (lower wins).
//
// Evaluation has two deliberate side effects on condition state: the
// trailing stop's high-water mark ratchets upward, and the breakeven stop
// transitions DISABLED -> ARMED the first time PnL goes positive.
func (e *Evaluator) Evaluate(pos *domain.Position, ctx Context) (all []domain.ExitSignal, chosen *domain.ExitSignal) {
	for _, cond := range pos.ExitConditions {
		if cond.State == domain.ExitStateFired {
			continue
		}

		if cond.Kind == domain.ExitBreakevenStop && cond.State == domain.ExitStateDisabled && ctx.PnLPercent > 0 {
			cond.State = domain.ExitStateArmed
			e.logger.Debug("breakeven stop armed",
				slog.String("position_id", pos.ID),
				slog.Float64("pnl_pct", ctx.PnLPercent),
			)
		}
		if cond.State != domain.ExitStateArmed {
			continue
		}

		if sig := e.evaluateOne(pos, cond, ctx); sig != nil {
			all = append(all, *sig)
		}
	}

	if len(all) == 0 {
		return nil, nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Urgency != all[j].Urgency {
			return all[i].Urgency > all[j].Urgency
		}
		return all[i].Priority < all[j].Priority
	})

	top := all[0]
	for _, cond := range pos.ExitConditions {
		if cond.Kind == top.Kind {
			cond.State = domain.ExitStateFired
			break
		}
	}
	return all, &top
}

// Rearm returns the position's fired condition of the given kind to the
// armed state. Callers use this when a chosen signal was surfaced but not
// acted on, so the condition keeps signalling while it still holds.
func (e *Evaluator) Rearm(pos *domain.Position, kind domain.ExitConditionKind) {
	for _, cond := range pos.ExitConditions {
		if cond.Kind == kind && cond.State == domain.ExitStateFired {
			cond.State = domain.ExitStateArmed
		}
	}
}

func (e *Evaluator) evaluateOne(pos *domain.Position, cond *domain.ExitCondition, ctx Context) *domain.ExitSignal {
	switch cond.Kind {
	case domain.ExitProfitTarget:
		if ctx.PnLPercent >= cond.Threshold {
			return e.signal(pos, cond, ctx, domain.ExitReasonProfitTarget, domain.UrgencyHigh, 0.9,
				fmt.Sprintf("profit target reached: %.1f%% >= %.1f%%", ctx.PnLPercent, cond.Threshold))
		}

	case domain.ExitStopLoss:
		if ctx.PnLPercent <= -cond.Threshold {
			return e.signal(pos, cond, ctx, domain.ExitReasonStopLoss, domain.UrgencyCritical, 0.95,
				fmt.Sprintf("stop loss hit: %.1f%% <= -%.1f%%", ctx.PnLPercent, cond.Threshold))
		}

	case domain.ExitTrailingStop:
		// The mark only ratchets upward; a new high never fires.
		if ctx.CurrentPrice > cond.HighWaterMark {
			cond.HighWaterMark = ctx.CurrentPrice
			return nil
		}
		if cond.HighWaterMark <= 0 {
			return nil
		}
		dropPct := (cond.HighWaterMark - ctx.CurrentPrice) / cond.HighWaterMark * 100
		if dropPct >= cond.Threshold && ctx.PnLPercent > 0 {
			return e.signal(pos, cond, ctx, domain.ExitReasonStopLoss, domain.UrgencyHigh, 0.8,
				fmt.Sprintf("trailing stop: %.1f%% off high-water mark %.2f", dropPct, cond.HighWaterMark))
		}

	case domain.ExitBreakevenStop:
		if ctx.PnLPercent <= 0 {
			return e.signal(pos, cond, ctx, domain.ExitReasonStopLoss, domain.UrgencyMedium, 0.7,
				"breakeven stop: profit given back")
		}

	case domain.ExitTimeDecay:
		if ctx.DaysToExpiration <= cond.Threshold && ctx.PnLPercent <= 0 {
			return e.signal(pos, cond, ctx, domain.ExitReasonTimeDecay, domain.UrgencyMedium, 0.75,
				fmt.Sprintf("time decay: %.1f DTE with %.1f%% PnL", ctx.DaysToExpiration, ctx.PnLPercent))
		}

	case domain.ExitExpiration:
		hoursLeft := ctx.DaysToExpiration * 24
		if hoursLeft <= cond.Threshold {
			return e.signal(pos, cond, ctx, domain.ExitReasonExpiration, domain.UrgencyCritical, 0.95,
				fmt.Sprintf("expiration: %.1fh left, force-exit window %.1fh", hoursLeft, cond.Threshold))
		}
	}
	return nil
}

func (e *Evaluator) signal(pos *domain.Position, cond *domain.ExitCondition, ctx Context, reason domain.ExitReason, urgency domain.SignalUrgency, confidence float64, msg string) *domain.ExitSignal {
	return &domain.ExitSignal{
		PositionID:  pos.ID,
		Ticker:      pos.Ticker,
		Kind:        cond.Kind,
		Reason:      reason,
		ExitPrice:   ctx.CurrentPrice,
		Confidence:  confidence,
		Urgency:     urgency,
		Priority:    cond.Priority,
		Message:     msg,
		TriggeredAt: ctx.Now,
	}
}
