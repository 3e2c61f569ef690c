// Package greeks derives per-position Greeks, time-decay, and volatility
// snapshots from market ticks and attributes tick-over-tick PnL to the
// individual Greeks.
package greeks

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/optionsim/internal/domain"
	"github.com/alanyoungcy/optionsim/internal/pricing"
)

// historyCap bounds every per-position snapshot history. Oldest entries are
// dropped first.
const historyCap = 100

// Tracker recomputes derived risk state for positions on every tick. It has
// no state of its own beyond the pricing model; all mutation happens on the
// position passed in, under the engine's lock.
type Tracker struct {
	model  pricing.Model
	logger *slog.Logger
}

// NewTracker creates a Tracker backed by the given pricing model.
func NewTracker(model pricing.Model, logger *slog.Logger) *Tracker {
	return &Tracker{
		model:  model,
		logger: logger.With(slog.String("component", "greeks_tracker")),
	}
}

// EntryGreeks computes the Greeks snapshot taken at fill time.
func (t *Tracker) EntryGreeks(contract domain.OptionContract, underlying, impliedVol float64, now time.Time) domain.Greeks {
	return t.model.Greeks(contract, underlying, impliedVol, now)
}

// Update recomputes the position's current Greeks from the tick and appends
// Greeks, decay, and volatility snapshots to the bounded histories. Ticks
// with no implied vol for the contract reuse the last known IV.
func (t *Tracker) Update(pos *domain.Position, tick domain.MarketTick) {
	iv, ok := tick.ImpliedVol(pos.Contract.Symbol())
	if !ok {
		iv = pos.CurrentGreeks.ImpliedVol
		if iv == 0 {
			iv = pos.EntryGreeks.ImpliedVol
		}
	}

	g := t.model.Greeks(pos.Contract, tick.UnderlyingPrice, iv, tick.Timestamp)
	pos.CurrentGreeks = g

	pos.GreeksHistory = appendBounded(pos.GreeksHistory, domain.GreeksSnapshot{
		Greeks:          g,
		UnderlyingPrice: tick.UnderlyingPrice,
		Timestamp:       tick.Timestamp,
	})

	dte := pos.Contract.DaysToExpiration(tick.Timestamp)
	pos.DecayHistory = appendBounded(pos.DecayHistory, domain.DecaySnapshot{
		DaysToExpiration: dte,
		Theta:            g.Theta,
		DailyDecay:       g.Theta * domain.ContractMultiplier,
		Timestamp:        tick.Timestamp,
	})

	if ok {
		pos.VolHistory = appendBounded(pos.VolHistory, domain.VolSnapshot{
			ImpliedVol: iv,
			Vega:       g.Vega,
			VegaDollar: g.Vega * domain.ContractMultiplier,
			Timestamp:  tick.Timestamp,
		})
	}
}

// AttributePnL decomposes an option price change into per-Greek
// contributions. underlyingMove is the tick-over-tick underlying change,
// days the elapsed time in days, and ivDelta the implied-vol change (pass 0
// when the tick carried no IV; the vega term then stays zero and the
// residual lands in Unexplained). Rho attribution needs a rate change, which
// the feed does not supply, so it is always zero and likewise absorbed by
// Unexplained.
func (t *Tracker) AttributePnL(g domain.Greeks, optionPriceChange, underlyingMove, days, ivDelta float64) domain.GreeksPnLContribution {
	c := domain.GreeksPnLContribution{
		Delta: g.Delta * underlyingMove,
		Gamma: 0.5 * g.Gamma * underlyingMove * underlyingMove,
		Theta: g.Theta * days,
		Vega:  g.Vega * ivDelta * 100, // vega is per 1 vol point
		Rho:   0,
		Total: optionPriceChange,
	}
	c.Unexplained = c.Total - (c.Delta + c.Gamma + c.Theta + c.Vega + c.Rho)
	return c
}

func appendBounded[T any](history []T, entry T) []T {
	history = append(history, entry)
	if len(history) > historyCap {
		history = history[len(history)-historyCap:]
	}
	return history
}
