package domain

import (
	"fmt"
	"time"
)

// ContractMultiplier is the number of underlying shares one option contract
// controls. Standard US equity options.
const ContractMultiplier = 100

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// OptionContract identifies a single listed option.
type OptionContract struct {
	Ticker     string
	Strike     float64
	Expiration time.Time
	Type       OptionType
}

// Symbol returns a stable key for the contract, used to look up per-contract
// prices and implied volatilities in a MarketTick.
func (c OptionContract) Symbol() string {
	return fmt.Sprintf("%s-%s-%.2f-%s", c.Ticker, c.Expiration.Format("20060102"), c.Strike, c.Type)
}

// DaysToExpiration returns the remaining lifetime of the contract in days at
// the given instant. Never negative.
func (c OptionContract) DaysToExpiration(now time.Time) float64 {
	dte := c.Expiration.Sub(now).Hours() / 24
	if dte < 0 {
		return 0
	}
	return dte
}

// LiquidityRating buckets how easily a contract trades. It drives the
// slippage and latency tiers in the execution simulator.
type LiquidityRating string

const (
	LiquidityExcellent LiquidityRating = "EXCELLENT"
	LiquidityGood      LiquidityRating = "GOOD"
	LiquidityFair      LiquidityRating = "FAIR"
	LiquidityPoor      LiquidityRating = "POOR"
)

// ContractRecommendation is the contract a signal source wants traded,
// together with the quote context needed to simulate a realistic fill.
type ContractRecommendation struct {
	Contract     OptionContract
	Price        float64 // requested (mid) price per share
	BidAskSpread float64 // absolute spread per share
	Underlying   float64 // underlying price at signal time
	Liquidity    LiquidityRating
	ImpliedVol   float64
}
