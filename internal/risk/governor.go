package risk

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// GovernorConfig holds the sizing caps and circuit-breaker thresholds.
type GovernorConfig struct {
	MaxPortfolioHeat    float64 // post-trade heat cap, fraction of balance
	MaxPositionHeat     float64 // single-position share cap
	MaxTickerExposure   float64 // post-trade per-ticker notional / balance cap
	MinPositionSize     float64 // floor used on computation errors, dollars
	MaxConsecutiveLoss  int     // losses before sizing halts
	DrawdownDefensive   float64 // drawdown fraction that switches to defensive sizing
	EmergencyHeat       float64 // heat beyond which everything should be force-closed
	DefensiveSizeFactor float64 // size multiplier while defensive
}

// DefaultGovernorConfig returns the caps used when none are configured.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		MaxPortfolioHeat:    0.20,
		MaxPositionHeat:     0.10,
		MaxTickerExposure:   0.15,
		MinPositionSize:     500,
		MaxConsecutiveLoss:  5,
		DrawdownDefensive:   0.15,
		EmergencyHeat:       0.40,
		DefensiveSizeFactor: 0.5,
	}
}

// PortfolioState is the account snapshot the governor sizes against. The
// engine assembles it under its lock so the numbers are mutually consistent.
type PortfolioState struct {
	CurrentBalance    float64
	AvailableBalance  float64
	OpenNotional      float64
	TickerNotional    map[string]float64
	MaxDrawdown       float64
	ConsecutiveLosses int
}

// Governor performs confidence-weighted position sizing and enforces the
// portfolio-heat caps and circuit breakers.
type Governor struct {
	cfg    GovernorConfig
	logger *slog.Logger
}

// NewGovernor creates a Governor.
func NewGovernor(cfg GovernorConfig, logger *slog.Logger) *Governor {
	return &Governor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sizing_governor")),
	}
}

// ValidateAndSize sizes the request against the portfolio state. The
// contract count is derived from the simulated fill price, not the requested
// price, so slippage and market impact cannot push the committed notional
// past a cap the request only just cleared. It never returns an error to the
// caller: an internal computation failure degrades to the minimum safe size
// with an explanatory reason.
func (g *Governor) ValidateAndSize(req domain.TradeRequest, fillPrice float64, state PortfolioState) (decision domain.SizingDecision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("sizing computation failed, degrading to minimum size",
				slog.String("ticker", req.Ticker),
				slog.Any("panic", r),
			)
			decision = domain.SizingDecision{
				Approved:        false,
				RecommendedSize: g.cfg.MinPositionSize,
				Reason:          "Error during validation",
			}
		}
	}()

	if req.Recommendation == nil || req.Recommendation.Price <= 0 {
		return domain.SizingDecision{Approved: false, Reason: "recommendation has no price"}
	}
	if state.CurrentBalance <= 0 {
		return domain.SizingDecision{Approved: false, Reason: "account has no balance"}
	}
	if fillPrice <= 0 {
		fillPrice = req.Recommendation.Price
	}

	// Circuit breaker: consecutive-loss halt.
	if g.cfg.MaxConsecutiveLoss > 0 && state.ConsecutiveLosses >= g.cfg.MaxConsecutiveLoss {
		return domain.SizingDecision{
			Approved: false,
			Reason: fmt.Sprintf("circuit breaker: %d consecutive losses (limit %d)",
				state.ConsecutiveLosses, g.cfg.MaxConsecutiveLoss),
		}
	}

	// Confidence modulation: higher confidence strictly raises the size for
	// otherwise-identical inputs, within the same caps.
	size := req.PositionSize * (0.5 + 0.5*req.Confidence)

	// Circuit breaker: defensive sizing while in deep drawdown.
	if g.cfg.DrawdownDefensive > 0 && state.MaxDrawdown >= g.cfg.DrawdownDefensive {
		size *= g.cfg.DefensiveSizeFactor
		g.logger.Warn("defensive sizing active",
			slog.Float64("drawdown", state.MaxDrawdown),
			slog.Float64("threshold", g.cfg.DrawdownDefensive),
		)
	}

	// Cap 1: post-trade portfolio heat.
	maxByHeat := g.cfg.MaxPortfolioHeat*state.CurrentBalance - state.OpenNotional
	if size > maxByHeat {
		return reject(size, maxByHeat, fmt.Sprintf(
			"portfolio heat would exceed %.0f%% cap", g.cfg.MaxPortfolioHeat*100))
	}

	// Cap 2: single-position heat share.
	maxByPosition := g.cfg.MaxPositionHeat * state.CurrentBalance
	if size > maxByPosition {
		return reject(size, maxByPosition, fmt.Sprintf(
			"position heat share would exceed %.0f%% cap", g.cfg.MaxPositionHeat*100))
	}

	// Cap 3: post-trade ticker concentration.
	tickerOpen := state.TickerNotional[req.Ticker]
	maxByTicker := g.cfg.MaxTickerExposure*state.CurrentBalance - tickerOpen
	if size > maxByTicker {
		return reject(size, maxByTicker, fmt.Sprintf(
			"ticker %s concentration would exceed %.0f%% cap", req.Ticker, g.cfg.MaxTickerExposure*100))
	}

	// Cap 4: available balance.
	if size > state.AvailableBalance {
		return reject(size, state.AvailableBalance, "requested notional exceeds available balance")
	}

	// Committed notional is qty * perContract <= size, so every cap checked
	// above also holds for the actual fill.
	perContract := fillPrice * domain.ContractMultiplier
	qty := int(math.Floor(size / perContract))
	if qty < 1 {
		return domain.SizingDecision{
			Approved:        false,
			RecommendedSize: perContract,
			Reason:          "approved size below one contract",
		}
	}

	return domain.SizingDecision{
		Approved:        true,
		RecommendedSize: size,
		Quantity:        qty,
	}
}

// EmergencyHeatBreached reports whether the portfolio heat is past the
// emergency threshold, signalling that everything should be force-closed.
func (g *Governor) EmergencyHeatBreached(heat float64) bool {
	return g.cfg.EmergencyHeat > 0 && heat >= g.cfg.EmergencyHeat
}

func reject(requested, maxSafe float64, reason string) domain.SizingDecision {
	if maxSafe < 0 {
		maxSafe = 0
	}
	return domain.SizingDecision{
		Approved:        false,
		RecommendedSize: maxSafe,
		Reason:          reason,
	}
}
