package domain

import "time"

// PositionStatus tracks whether a position is open, closed, or expired.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosed  PositionStatus = "closed"
	PositionStatusExpired PositionStatus = "expired"
)

// ExitReason records why a position left the open set.
type ExitReason string

const (
	ExitReasonProfitTarget     ExitReason = "PROFIT_TARGET"
	ExitReasonStopLoss         ExitReason = "STOP_LOSS"
	ExitReasonTimeDecay        ExitReason = "TIME_DECAY"
	ExitReasonExpiration       ExitReason = "EXPIRATION"
	ExitReasonRiskManagement   ExitReason = "RISK_MANAGEMENT"
	ExitReasonManual           ExitReason = "MANUAL"
	ExitReasonPortfolioHeat    ExitReason = "PORTFOLIO_HEAT"
	ExitReasonCorrelationLimit ExitReason = "CORRELATION_LIMIT"
)

// ExecutionQuality classifies a simulated fill by its total cost relative to
// the requested price.
type ExecutionQuality string

const (
	ExecutionQualityExcellent ExecutionQuality = "EXCELLENT"
	ExecutionQualityGood      ExecutionQuality = "GOOD"
	ExecutionQualityFair      ExecutionQuality = "FAIR"
	ExecutionQualityPoor      ExecutionQuality = "POOR"
)

// ExecutionDetails records how a simulated fill deviated from the request.
type ExecutionDetails struct {
	RequestedPrice float64
	ExecutedPrice  float64
	Slippage       float64
	MarketImpact   float64
	Latency        time.Duration
	LiquidityScore float64 // 0..1, higher is more liquid
	Quality        ExecutionQuality
}

// Position is one simulated option contract holding. A position transitions
// open -> {closed, expired} exactly once; after that it is immutable and
// lives only in the closed record.
type Position struct {
	ID       string
	Ticker   string
	Contract OptionContract
	SignalID string

	Quantity      int
	EntryPrice    float64
	CurrentPrice  float64
	RealizedPnL   float64
	UnrealizedPnL float64
	PnLPercent    float64
	MaxFavorable  float64 // best unrealized PnL seen since entry (MFE)
	MaxAdverse    float64 // worst unrealized PnL seen since entry (MAE)

	EntryGreeks   Greeks
	CurrentGreeks Greeks
	GreeksHistory []GreeksSnapshot
	DecayHistory  []DecaySnapshot
	VolHistory    []VolSnapshot

	Status     PositionStatus
	OpenedAt   time.Time
	ClosedAt   *time.Time
	ExitPrice  *float64
	ExitReason *ExitReason

	Execution ExecutionDetails

	ExitConditions []*ExitCondition
}

// Notional returns the current market value of the position in dollars.
func (p *Position) Notional() float64 {
	return p.CurrentPrice * float64(p.Quantity) * ContractMultiplier
}

// CostBasis returns the capital committed at entry in dollars.
func (p *Position) CostBasis() float64 {
	return p.EntryPrice * float64(p.Quantity) * ContractMultiplier
}

// IsOpen reports whether the position can still be mutated.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}
