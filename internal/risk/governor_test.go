package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

func newTestGovernor() *Governor {
	return NewGovernor(DefaultGovernorConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func request(ticker string, size, confidence, price float64) domain.TradeRequest {
	return domain.TradeRequest{
		Ticker:   ticker,
		SignalID: "sig-1",
		Recommendation: &domain.ContractRecommendation{
			Contract: domain.OptionContract{
				Ticker:     ticker,
				Strike:     100,
				Expiration: time.Now().Add(30 * 24 * time.Hour),
				Type:       domain.OptionTypeCall,
			},
			Price:     price,
			Liquidity: domain.LiquidityGood,
		},
		Confidence:   confidence,
		PositionSize: size,
	}
}

func flatState(balance float64) PortfolioState {
	return PortfolioState{
		CurrentBalance:   balance,
		AvailableBalance: balance,
		TickerNotional:   map[string]float64{},
	}
}

func TestValidateAndSizeApproves(t *testing.T) {
	g := newTestGovernor()

	d := g.ValidateAndSize(request("AAPL", 5_000, 1.0, 5.00), 5.00, flatState(100_000))
	require.True(t, d.Approved)
	assert.InDelta(t, 5_000, d.RecommendedSize, 1e-9)
	assert.Equal(t, 10, d.Quantity) // 5_000 / (5.00 * 100)
	assert.Empty(t, d.Reason)
}

func TestValidateAndSizeConfidenceModulation(t *testing.T) {
	g := newTestGovernor()
	state := flatState(100_000)

	low := g.ValidateAndSize(request("AAPL", 8_000, 0.2, 5.00), 5.00, state)
	high := g.ValidateAndSize(request("AAPL", 8_000, 0.9, 5.00), 5.00, state)

	require.True(t, low.Approved)
	require.True(t, high.Approved)
	assert.InDelta(t, 8_000*0.6, low.RecommendedSize, 1e-9)
	assert.InDelta(t, 8_000*0.95, high.RecommendedSize, 1e-9)
	assert.Greater(t, high.RecommendedSize, low.RecommendedSize)
}

func TestValidateAndSizeRejectsPortfolioHeat(t *testing.T) {
	g := newTestGovernor()
	state := flatState(100_000)
	state.OpenNotional = 18_000 // 2_000 of headroom against the 20% cap

	d := g.ValidateAndSize(request("AAPL", 9_000, 1.0, 5.00), 5.00, state)
	require.False(t, d.Approved)
	assert.Contains(t, d.Reason, "portfolio heat")
	assert.InDelta(t, 2_000, d.RecommendedSize, 1e-9)
}

func TestValidateAndSizeRejectsPositionHeat(t *testing.T) {
	g := newTestGovernor()

	// 15k passes the 20% portfolio cap but breaches the 10% single-position
	// share.
	d := g.ValidateAndSize(request("AAPL", 15_000, 1.0, 5.00), 5.00, flatState(100_000))
	require.False(t, d.Approved)
	assert.Contains(t, d.Reason, "position heat")
	assert.InDelta(t, 10_000, d.RecommendedSize, 1e-9)
}

func TestValidateAndSizeRejectsTickerConcentration(t *testing.T) {
	g := newTestGovernor()
	state := flatState(100_000)
	state.TickerNotional["AAPL"] = 12_000 // 3_000 of headroom against 15%

	d := g.ValidateAndSize(request("AAPL", 8_000, 1.0, 5.00), 5.00, state)
	require.False(t, d.Approved)
	assert.Contains(t, d.Reason, "AAPL")
	assert.InDelta(t, 3_000, d.RecommendedSize, 1e-9)

	// A different ticker with the same size is unaffected.
	other := g.ValidateAndSize(request("MSFT", 8_000, 1.0, 5.00), 5.00, state)
	assert.True(t, other.Approved)
}

func TestValidateAndSizeRejectsOnAvailableBalance(t *testing.T) {
	g := newTestGovernor()
	state := flatState(100_000)
	state.AvailableBalance = 4_000

	d := g.ValidateAndSize(request("AAPL", 8_000, 1.0, 5.00), 5.00, state)
	require.False(t, d.Approved)
	assert.Contains(t, d.Reason, "available balance")
	assert.InDelta(t, 4_000, d.RecommendedSize, 1e-9)
}

func TestValidateAndSizeConsecutiveLossBreaker(t *testing.T) {
	g := newTestGovernor()
	state := flatState(100_000)
	state.ConsecutiveLosses = 5

	d := g.ValidateAndSize(request("AAPL", 5_000, 1.0, 5.00), 5.00, state)
	require.False(t, d.Approved)
	assert.Contains(t, d.Reason, "circuit breaker")

	state.ConsecutiveLosses = 4
	d = g.ValidateAndSize(request("AAPL", 5_000, 1.0, 5.00), 5.00, state)
	assert.True(t, d.Approved)
}

func TestValidateAndSizeDefensiveSizing(t *testing.T) {
	g := newTestGovernor()
	state := flatState(100_000)
	state.MaxDrawdown = 0.20 // past the 15% defensive threshold

	d := g.ValidateAndSize(request("AAPL", 8_000, 1.0, 5.00), 5.00, state)
	require.True(t, d.Approved)
	assert.InDelta(t, 4_000, d.RecommendedSize, 1e-9)
	assert.Equal(t, 8, d.Quantity)
}

func TestValidateAndSizeBelowOneContract(t *testing.T) {
	g := newTestGovernor()

	// 300 at full confidence sizes to 300, below one 5.00 contract (500).
	d := g.ValidateAndSize(request("AAPL", 300, 1.0, 5.00), 5.00, flatState(100_000))
	require.False(t, d.Approved)
	assert.Contains(t, d.Reason, "below one contract")
	assert.InDelta(t, 500, d.RecommendedSize, 1e-9)
}

func TestValidateAndSizeQuantityFitsFillPrice(t *testing.T) {
	g := newTestGovernor()

	// Request at the full 10% single-position budget with a fill above the
	// requested price: the contract count must shrink so the committed
	// notional stays inside the budget.
	d := g.ValidateAndSize(request("AAPL", 10_000, 1.0, 5.00), 5.10, flatState(100_000))
	require.True(t, d.Approved)
	assert.Equal(t, 19, d.Quantity)
	committed := float64(d.Quantity) * 5.10 * domain.ContractMultiplier
	assert.LessOrEqual(t, committed, 10_000.0)

	// At the requested price the same budget buys a full 20 contracts.
	d = g.ValidateAndSize(request("AAPL", 10_000, 1.0, 5.00), 5.00, flatState(100_000))
	require.True(t, d.Approved)
	assert.Equal(t, 20, d.Quantity)
}

func TestValidateAndSizeZeroFillFallsBackToRequested(t *testing.T) {
	g := newTestGovernor()

	d := g.ValidateAndSize(request("AAPL", 5_000, 1.0, 5.00), 0, flatState(100_000))
	require.True(t, d.Approved)
	assert.Equal(t, 10, d.Quantity)
}

func TestValidateAndSizeMalformedInputs(t *testing.T) {
	g := newTestGovernor()

	req := request("AAPL", 5_000, 1.0, 5.00)
	req.Recommendation = nil
	d := g.ValidateAndSize(req, 5.00, flatState(100_000))
	assert.False(t, d.Approved)

	req = request("AAPL", 5_000, 1.0, 0)
	d = g.ValidateAndSize(req, 5.00, flatState(100_000))
	assert.False(t, d.Approved)

	d = g.ValidateAndSize(request("AAPL", 5_000, 1.0, 5.00), 5.00, flatState(0))
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "balance")
}

func TestValidateAndSizeNegativeHeadroomClampsToZero(t *testing.T) {
	g := newTestGovernor()
	state := flatState(100_000)
	state.OpenNotional = 25_000 // already past the 20% cap

	d := g.ValidateAndSize(request("AAPL", 5_000, 1.0, 5.00), 5.00, state)
	require.False(t, d.Approved)
	assert.Zero(t, d.RecommendedSize)
}

func TestEmergencyHeatBreached(t *testing.T) {
	g := newTestGovernor()

	assert.False(t, g.EmergencyHeatBreached(0.39))
	assert.True(t, g.EmergencyHeatBreached(0.40))
	assert.True(t, g.EmergencyHeatBreached(0.55))
}
