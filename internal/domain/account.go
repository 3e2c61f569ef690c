package domain

import "time"

// RiskMetrics is the portfolio-level risk snapshot recomputed from the live
// set of open positions on every tick.
type RiskMetrics struct {
	PortfolioHeat     float64 // open notional / current balance
	ConcentrationRisk float64 // Herfindahl index over per-ticker notional share
	CorrelationRisk   float64 // 1 - distinct tickers / open positions (proxy)
	GreeksExposure    Greeks  // per-Greek sum of greek * quantity * multiplier
	VaR95             float64 // dollars, one-day horizon
	ExpectedShortfall float64 // dollars
	OpenNotional      float64
	OpenPositions     int
	ComputedAt        time.Time
}

// TickerPerformance is the realized track record for one ticker.
type TickerPerformance struct {
	Trades      int
	Wins        int
	RealizedPnL float64
}

// PerformanceMetrics summarizes the closed-trade track record of an account.
type PerformanceMetrics struct {
	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	ProfitFactor float64 // gross profit / gross loss
	Sharpe       float64 // per-trade return Sharpe, unannualized
	ByTicker     map[string]TickerPerformance
}

// Account aggregates all positions for one simulated trader. The engine owns
// the account exclusively; all mutation is serialized behind its lock.
type Account struct {
	InitialBalance   float64
	CurrentBalance   float64 // initial + realized + unrealized PnL
	AvailableBalance float64 // current minus capital committed to open positions
	PeakBalance      float64
	MaxDrawdown      float64 // peak-to-trough fraction, monotonic non-decreasing

	RealizedPnL   float64
	UnrealizedPnL float64

	Risk        RiskMetrics
	Performance PerformanceMetrics

	ConsecutiveLosses int
}

// AccountSummary is the read-only view handed to dashboards and callers.
type AccountSummary struct {
	InitialBalance    float64
	CurrentBalance    float64
	AvailableBalance  float64
	RealizedPnL       float64
	UnrealizedPnL     float64
	MaxDrawdown       float64
	ConsecutiveLosses int
	OpenPositions     int
	ClosedPositions   int
	Risk              RiskMetrics
	Performance       PerformanceMetrics
}
