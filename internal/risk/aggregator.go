// Package risk computes portfolio-level risk from the live set of open
// positions and gates new trades through the sizing governor.
package risk

import (
	"time"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// VaR assumptions: 2% daily portfolio volatility at a 95% confidence z-score,
// with Expected Shortfall a fixed 1.3x multiple. A documented approximation,
// not a full tail model.
const (
	assumedDailyVol = 0.02
	zScore95        = 1.645
	esMultiplier    = 1.3
)

// Aggregator is a pure calculator over open positions. Portfolio assembly
// and limit policy live in the governor and the engine.
type Aggregator struct{}

// NewAggregator creates an Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Snapshot computes all portfolio risk metrics from the open positions and
// the account's current balance.
func (a *Aggregator) Snapshot(positions []*domain.Position, currentBalance float64, now time.Time) domain.RiskMetrics {
	m := domain.RiskMetrics{
		OpenPositions: len(positions),
		ComputedAt:    now,
	}

	tickerNotional := make(map[string]float64)
	for _, p := range positions {
		notional := p.Notional()
		m.OpenNotional += notional
		tickerNotional[p.Ticker] += notional

		qty := float64(p.Quantity) * domain.ContractMultiplier
		m.GreeksExposure.Delta += p.CurrentGreeks.Delta * qty
		m.GreeksExposure.Gamma += p.CurrentGreeks.Gamma * qty
		m.GreeksExposure.Theta += p.CurrentGreeks.Theta * qty
		m.GreeksExposure.Vega += p.CurrentGreeks.Vega * qty
		m.GreeksExposure.Rho += p.CurrentGreeks.Rho * qty
	}

	if currentBalance > 0 {
		m.PortfolioHeat = m.OpenNotional / currentBalance
	}

	m.ConcentrationRisk = herfindahl(tickerNotional, m.OpenNotional)

	// Proxy, not a covariance measure: rises as positions cluster in fewer
	// tickers.
	if len(positions) > 0 {
		m.CorrelationRisk = 1 - float64(len(tickerNotional))/float64(len(positions))
	}

	m.VaR95 = m.OpenNotional * assumedDailyVol * zScore95
	m.ExpectedShortfall = m.VaR95 * esMultiplier

	return m
}

// herfindahl sums squared per-ticker notional shares. Range [1/N, 1].
func herfindahl(tickerNotional map[string]float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	var h float64
	for _, notional := range tickerNotional {
		share := notional / total
		h += share * share
	}
	return h
}
