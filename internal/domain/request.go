package domain

// TradeRequest is what the signal/regime source asks the engine to trade.
// PositionSize is the requested notional in dollars; the sizing governor may
// approve a smaller amount.
type TradeRequest struct {
	Ticker         string
	SignalID       string
	Recommendation *ContractRecommendation
	Confidence     float64 // 0..1
	ExpectedMove   float64 // expected underlying move, fractional
	PositionSize   float64 // requested notional, dollars
}

// SizingDecision is the governor's verdict on a trade request. When the
// request is rejected, RecommendedSize carries the maximum notional the
// governor would have accepted so the caller can retry smaller.
type SizingDecision struct {
	Approved        bool
	RecommendedSize float64
	Quantity        int // contracts, derived from RecommendedSize
	Reason          string
}
