package domain

import "time"

// MarketTick is one snapshot from the market-data feed: the underlying price
// for a ticker plus per-contract option prices and implied volatilities.
// Ticks are idempotent; a tick that carries no price for a given contract is
// a no-op for that contract.
type MarketTick struct {
	Ticker          string
	UnderlyingPrice float64
	OptionPrices    map[string]float64 // contract symbol -> price per share
	ImpliedVols     map[string]float64 // contract symbol -> IV
	Timestamp       time.Time
}

// OptionPrice returns the tick's price for the given contract symbol and
// whether the tick carried one.
func (t MarketTick) OptionPrice(symbol string) (float64, bool) {
	p, ok := t.OptionPrices[symbol]
	return p, ok
}

// ImpliedVol returns the tick's implied volatility for the given contract
// symbol and whether the tick carried one.
func (t MarketTick) ImpliedVol(symbol string) (float64, bool) {
	iv, ok := t.ImpliedVols[symbol]
	return iv, ok
}
