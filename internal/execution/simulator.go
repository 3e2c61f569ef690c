// Package execution simulates non-ideal order fills. A requested trade is
// converted into an executed trade by applying liquidity-tiered slippage, a
// fixed fraction of the bid/ask spread as market impact, and a jittered fill
// latency. The computation is deterministic except for the latency jitter,
// which comes from an injectable randomness source so tests can pin it.
package execution

import (
	"math/rand"
	"time"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// Slippage rates in basis points of the requested price, strictly increasing
// as liquidity worsens.
var slippageBps = map[domain.LiquidityRating]float64{
	domain.LiquidityExcellent: 5,
	domain.LiquidityGood:      15,
	domain.LiquidityFair:      35,
	domain.LiquidityPoor:      75,
}

// Base fill latencies per liquidity tier. Actual latency is base +/- 50%
// jitter, floored at minLatency.
var baseLatency = map[domain.LiquidityRating]time.Duration{
	domain.LiquidityExcellent: 150 * time.Millisecond,
	domain.LiquidityGood:      400 * time.Millisecond,
	domain.LiquidityFair:      900 * time.Millisecond,
	domain.LiquidityPoor:      2 * time.Second,
}

// Liquidity scores map each tier onto 0..1 for the execution record.
var liquidityScore = map[domain.LiquidityRating]float64{
	domain.LiquidityExcellent: 0.95,
	domain.LiquidityGood:      0.75,
	domain.LiquidityFair:      0.5,
	domain.LiquidityPoor:      0.25,
}

const (
	// Market impact is a fixed 30% of the bid/ask spread. A simplification:
	// real impact depends on order size relative to book depth, which the
	// simulator does not model.
	impactSpreadFraction = 0.3

	minLatency = 50 * time.Millisecond

	// Execution-quality cutoffs on total cost as a fraction of price.
	qualityExcellentMax = 0.002
	qualityGoodMax      = 0.005
	qualityFairMax      = 0.010
)

// Simulator converts contract recommendations into realistic fills.
type Simulator struct {
	rng *rand.Rand
}

// NewSimulator creates a Simulator using the given randomness source for
// latency jitter. Pass a seeded source in tests for deterministic output.
func NewSimulator(rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulator{rng: rng}
}

// Simulate fills the recommendation, returning the execution record. The
// executed price is requested + slippage + impact; quality classifies the
// total cost as a fraction of the requested price.
func (s *Simulator) Simulate(rec domain.ContractRecommendation) domain.ExecutionDetails {
	rate, ok := slippageBps[rec.Liquidity]
	if !ok {
		rate = slippageBps[domain.LiquidityPoor]
	}

	slippage := rec.Price * rate / 10_000
	impact := rec.BidAskSpread * impactSpreadFraction
	executed := rec.Price + slippage + impact

	return domain.ExecutionDetails{
		RequestedPrice: rec.Price,
		ExecutedPrice:  executed,
		Slippage:       slippage,
		MarketImpact:   impact,
		Latency:        s.latency(rec.Liquidity),
		LiquidityScore: scoreFor(rec.Liquidity),
		Quality:        classifyQuality(slippage+impact, rec.Price),
	}
}

// latency samples base +/- 50% jitter for the tier, floored at minLatency.
func (s *Simulator) latency(liq domain.LiquidityRating) time.Duration {
	base, ok := baseLatency[liq]
	if !ok {
		base = baseLatency[domain.LiquidityPoor]
	}

	jitter := (s.rng.Float64() - 0.5) // -0.5 .. +0.5
	lat := time.Duration(float64(base) * (1 + jitter))
	if lat < minLatency {
		lat = minLatency
	}
	return lat
}

func scoreFor(liq domain.LiquidityRating) float64 {
	if score, ok := liquidityScore[liq]; ok {
		return score
	}
	return liquidityScore[domain.LiquidityPoor]
}

func classifyQuality(totalCost, price float64) domain.ExecutionQuality {
	if price <= 0 {
		return domain.ExecutionQualityPoor
	}
	frac := totalCost / price
	switch {
	case frac < qualityExcellentMax:
		return domain.ExecutionQualityExcellent
	case frac < qualityGoodMax:
		return domain.ExecutionQualityGood
	case frac < qualityFairMax:
		return domain.ExecutionQualityFair
	default:
		return domain.ExecutionQualityPoor
	}
}
