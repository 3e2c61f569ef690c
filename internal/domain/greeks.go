package domain

import "time"

// Greeks are the option price sensitivities tracked per position. Values come
// from the configured pricing model, which by default is a closed-form
// heuristic, not a pricing-grade Black-Scholes implementation.
type Greeks struct {
	Delta      float64
	Gamma      float64
	Theta      float64
	Vega       float64
	Rho        float64
	ImpliedVol float64
}

// GreeksSnapshot is one historical Greeks observation.
type GreeksSnapshot struct {
	Greeks
	UnderlyingPrice float64
	Timestamp       time.Time
}

// DecaySnapshot records the time-decay state of a position at one tick.
type DecaySnapshot struct {
	DaysToExpiration float64
	Theta            float64
	DailyDecay       float64 // theta expressed as $ per contract per day
	Timestamp        time.Time
}

// VolSnapshot records the volatility exposure of a position at one tick.
type VolSnapshot struct {
	ImpliedVol float64
	Vega       float64
	VegaDollar float64 // vega exposure in $ per 1 vol point, per contract
	Timestamp  time.Time
}

// GreeksPnLContribution decomposes a tick-over-tick option price change into
// per-Greek contributions. Vega and Rho stay zero unless the caller supplies
// volatility / rate deltas; the Unexplained remainder absorbs whatever the
// first-order model does not capture.
type GreeksPnLContribution struct {
	Delta       float64
	Gamma       float64
	Theta       float64
	Vega        float64
	Rho         float64
	Unexplained float64
	Total       float64
}
