package engine

import (
	"math"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// computePerformance derives the closed-trade track record. Sharpe is
// computed over per-trade returns (realized PnL over cost basis) without
// annualization; with fewer than two trades it stays zero.
func computePerformance(closed []*domain.Position) domain.PerformanceMetrics {
	m := domain.PerformanceMetrics{
		ByTicker: make(map[string]domain.TickerPerformance),
	}
	if len(closed) == 0 {
		return m
	}

	var grossProfit, grossLoss float64
	returns := make([]float64, 0, len(closed))

	for _, p := range closed {
		m.TotalTrades++

		tp := m.ByTicker[p.Ticker]
		tp.Trades++
		tp.RealizedPnL += p.RealizedPnL

		if p.RealizedPnL >= 0 {
			m.Wins++
			tp.Wins++
			grossProfit += p.RealizedPnL
		} else {
			m.Losses++
			grossLoss += -p.RealizedPnL
		}
		m.ByTicker[p.Ticker] = tp

		if basis := p.CostBasis(); basis > 0 {
			returns = append(returns, p.RealizedPnL/basis)
		}
	}

	m.WinRate = float64(m.Wins) / float64(m.TotalTrades)
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}
	m.Sharpe = sharpe(returns)

	return m
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
