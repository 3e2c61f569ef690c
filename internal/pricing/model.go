// Package pricing defines the pricing-model contract used by the Greeks
// tracker and ships a closed-form heuristic implementation. The heuristic is
// a deliberate approximation tuned for simulation plausibility, not a
// pricing-grade Black-Scholes model; the Model interface exists so a real
// model can be substituted without touching lifecycle or risk logic.
package pricing

import (
	"math"
	"time"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// Model computes option Greeks from the contract, the underlying price, and
// the market-implied volatility.
type Model interface {
	Name() string
	Greeks(contract domain.OptionContract, underlying, impliedVol float64, now time.Time) domain.Greeks
}

// Heuristic bounds. Delta saturates instead of reaching 0 or 1 so deep
// ITM/OTM positions keep non-degenerate risk numbers.
const (
	deltaFloor = 0.05
	deltaCap   = 0.95

	gammaPeak      = 0.06 // at-the-money gamma ceiling
	gammaWidth     = 10.0 // how fast gamma falls off with moneyness
	minYearsToExp  = 1.0 / 365
	riskFreeProxy  = 0.05
	vegaScale      = 0.01 // vega per 1 vol point
	thetaVolWeight = 0.5
)

// HeuristicModel is the default closed-form approximation.
type HeuristicModel struct{}

// NewHeuristicModel returns the default pricing model.
func NewHeuristicModel() *HeuristicModel {
	return &HeuristicModel{}
}

// Name identifies the model in snapshots and logs.
func (m *HeuristicModel) Name() string { return "heuristic-v1" }

// Greeks derives all five sensitivities from moneyness, time to expiry, and
// implied volatility.
//
// Delta is a smooth function of moneyness bounded to (0.05, 0.95) for calls
// and (-0.95, -0.05) for puts. Gamma peaks at the money and decays with time
// to expiry. Theta scales with volatility and sqrt(time). Vega scales with
// sqrt(time) and the underlying price. Rho is a small linear function of
// time with sign by option type.
func (m *HeuristicModel) Greeks(contract domain.OptionContract, underlying, impliedVol float64, now time.Time) domain.Greeks {
	if underlying <= 0 || contract.Strike <= 0 {
		return domain.Greeks{ImpliedVol: impliedVol}
	}

	years := contract.DaysToExpiration(now) / 365
	if years < minYearsToExp {
		years = minYearsToExp
	}
	sqrtT := math.Sqrt(years)

	iv := impliedVol
	if iv <= 0 {
		iv = 0.3
	}

	moneyness := underlying / contract.Strike

	// Sharper delta transition for short-dated, low-vol contracts.
	steepness := 4.0 / math.Max(iv*sqrtT, 0.05)
	callDelta := 0.5 + 0.5*math.Tanh((moneyness-1)*steepness)
	callDelta = clamp(callDelta, deltaFloor, deltaCap)

	var delta float64
	if contract.Type == domain.OptionTypeCall {
		delta = callDelta
	} else {
		delta = clamp(callDelta-1, -deltaCap, -deltaFloor)
	}

	gamma := gammaPeak * math.Exp(-0.5*math.Pow((moneyness-1)*gammaWidth, 2)) / math.Max(sqrtT*underlying*0.01, 1)

	// Per-day decay, negative for long options.
	theta := -(underlying * iv * thetaVolWeight) / (2 * math.Sqrt(365*years)) * 0.1

	vega := underlying * sqrtT * vegaScale

	rho := contract.Strike * years * riskFreeProxy * 0.01
	if contract.Type == domain.OptionTypePut {
		rho = -rho
	}

	return domain.Greeks{
		Delta:      delta,
		Gamma:      gamma,
		Theta:      theta,
		Vega:       vega,
		Rho:        rho,
		ImpliedVol: iv,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
