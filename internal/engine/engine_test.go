package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsim/internal/domain"
	"github.com/alanyoungcy/optionsim/internal/execution"
	"github.com/alanyoungcy/optionsim/internal/exitrules"
	"github.com/alanyoungcy/optionsim/internal/greeks"
	"github.com/alanyoungcy/optionsim/internal/pricing"
	"github.com/alanyoungcy/optionsim/internal/risk"
)

func newTestEngine(cfg Config) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(
		cfg,
		execution.NewSimulator(rand.New(rand.NewSource(1))),
		greeks.NewTracker(pricing.NewHeuristicModel(), logger),
		exitrules.NewEvaluator(exitrules.DefaultConfig(), logger),
		risk.NewAggregator(),
		risk.NewGovernor(risk.DefaultGovernorConfig(), logger),
		logger,
	)
}

func tradeRequest(ticker string, size float64, expiration time.Time) domain.TradeRequest {
	return domain.TradeRequest{
		Ticker:   ticker,
		SignalID: "sig-" + ticker,
		Recommendation: &domain.ContractRecommendation{
			Contract: domain.OptionContract{
				Ticker:     ticker,
				Strike:     100,
				Expiration: expiration,
				Type:       domain.OptionTypeCall,
			},
			Price:        5.00,
			BidAskSpread: 0.02,
			Underlying:   99.5,
			Liquidity:    domain.LiquidityExcellent,
			ImpliedVol:   0.35,
		},
		Confidence:   1.0,
		PositionSize: size,
	}
}

func mustOpen(t *testing.T, e *Engine, req domain.TradeRequest) domain.Position {
	t.Helper()
	id, err := e.ExecuteTrade(context.Background(), req)
	require.NoError(t, err)
	for _, p := range e.OpenPositions() {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("position %s not in open set", id)
	return domain.Position{}
}

func tickAt(pos domain.Position, optionPrice float64, ts time.Time) domain.MarketTick {
	return domain.MarketTick{
		Ticker:          pos.Ticker,
		UnderlyingPrice: 100,
		OptionPrices:    map[string]float64{pos.Contract.Symbol(): optionPrice},
		ImpliedVols:     map[string]float64{pos.Contract.Symbol(): 0.35},
		Timestamp:       ts,
	}
}

func farExpiry() time.Time { return time.Now().Add(45 * 24 * time.Hour) }

// recordingSink captures every fired exit signal.
type recordingSink struct {
	mu      sync.Mutex
	signals []domain.ExitSignal
}

func (s *recordingSink) ExitSignal(_ context.Context, sig domain.ExitSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
}

func (s *recordingSink) all() []domain.ExitSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ExitSignal(nil), s.signals...)
}

// recordingBus captures every published event payload.
type recordingBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.payloads))
	for i, p := range b.payloads {
		out[i] = string(p)
	}
	return out
}

func TestExecuteTradeValidation(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.TradeRequest)
		field  string
	}{
		{"empty ticker", func(r *domain.TradeRequest) { r.Ticker = "" }, "ticker"},
		{"empty signal id", func(r *domain.TradeRequest) { r.SignalID = "" }, "signal_id"},
		{"nil recommendation", func(r *domain.TradeRequest) { r.Recommendation = nil }, "recommendation"},
		{"zero size", func(r *domain.TradeRequest) { r.PositionSize = 0 }, "position_size"},
		{"confidence above one", func(r *domain.TradeRequest) { r.Confidence = 1.2 }, "confidence"},
		{"expired contract", func(r *domain.TradeRequest) {
			r.Recommendation.Contract.Expiration = time.Now().Add(-time.Hour)
		}, "expiration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tradeRequest("AAPL", 5_000, farExpiry())
			tc.mutate(&req)
			_, err := e.ExecuteTrade(ctx, req)
			ve, ok := domain.AsValidationError(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	assert.Empty(t, e.OpenPositions())
	assert.Equal(t, 100_000.0, e.AccountSummary().AvailableBalance)
}

func TestExecuteTradeRiskRejection(t *testing.T) {
	e := newTestEngine(DefaultConfig())

	_, err := e.ExecuteTrade(context.Background(), tradeRequest("AAPL", 50_000, farExpiry()))
	rr, ok := domain.AsRiskLimitRejection(err)
	require.True(t, ok, "expected risk rejection, got %v", err)
	assert.Greater(t, rr.MaxSafeSize, 0.0)
	assert.Empty(t, e.OpenPositions())
}

func TestExecuteTradeOpensPosition(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	pos := mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))

	// 5_000 over a per-contract cost of entry * 100, where entry carries
	// slippage and impact on top of the requested 5.00.
	assert.Equal(t, 9, pos.Quantity)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Greater(t, pos.EntryPrice, 5.00, "fill includes slippage and impact")
	assert.Equal(t, pos.EntryPrice, pos.CurrentPrice)
	assert.Len(t, pos.ExitConditions, 6)
	assert.NotZero(t, pos.EntryGreeks.Delta)
	assert.Equal(t, pos.EntryGreeks, pos.CurrentGreeks)

	sum := e.AccountSummary()
	assert.Equal(t, 1, sum.OpenPositions)
	costBasis := pos.EntryPrice * float64(pos.Quantity) * domain.ContractMultiplier
	assert.InDelta(t, 100_000-costBasis, sum.AvailableBalance, 1e-6)

	byTicker := e.PositionsByTicker("AAPL")
	require.Len(t, byTicker, 1)
	assert.Equal(t, pos.ID, byTicker[0].ID)
}

func TestExecuteTradeCommitsWithinApprovedBudget(t *testing.T) {
	e := newTestEngine(DefaultConfig())

	// The full single-position budget. The fill lands above the requested
	// 5.00 through slippage and impact, so the contract count must shrink
	// rather than let the committed notional run past the budget.
	pos := mustOpen(t, e, tradeRequest("AAPL", 10_000, farExpiry()))

	assert.Greater(t, pos.EntryPrice, 5.00)
	assert.LessOrEqual(t, pos.CostBasis(), 10_000.0)

	sum := e.AccountSummary()
	assert.LessOrEqual(t, sum.Risk.PortfolioHeat, risk.DefaultGovernorConfig().MaxPortfolioHeat+1e-9)
}

func TestPortfolioHeatStaysUnderCapAcrossRandomFlow(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	tickers := []string{"AAPL", "MSFT", "NVDA", "TSLA"}
	heatCap := risk.DefaultGovernorConfig().MaxPortfolioHeat

	for i := 0; i < 300; i++ {
		if rng.Intn(2) == 0 {
			req := tradeRequest(tickers[rng.Intn(len(tickers))], 1_000+rng.Float64()*14_000, farExpiry())
			req.SignalID = fmt.Sprintf("sig-%d", i)
			req.Confidence = rng.Float64()
			req.Recommendation.Price = 1 + rng.Float64()*19
			req.Recommendation.BidAskSpread = rng.Float64() * 0.5

			if _, err := e.ExecuteTrade(ctx, req); err != nil {
				_, ok := domain.AsRiskLimitRejection(err)
				require.True(t, ok, "only risk rejections expected, got %v", err)
				continue
			}

			// A trade the governor accepts must leave the portfolio inside
			// the heat cap regardless of what the fill cost.
			sum := e.AccountSummary()
			assert.LessOrEqual(t, sum.Risk.PortfolioHeat, heatCap+1e-9,
				"heat breached after trade %d", i)
			assert.GreaterOrEqual(t, sum.AvailableBalance, -1e-9)
		} else {
			for _, pos := range e.OpenPositions() {
				mult := 0.7 + rng.Float64()*0.7
				e.ApplyMarketTick(ctx, tickAt(pos, pos.CurrentPrice*mult, time.Now()))
			}
		}
	}
}

func TestApplyMarketTickUpdatesPnLAndExcursions(t *testing.T) {
	e := newTestEngine(Config{InitialBalance: 100_000, AutoExit: false})
	pos := mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))
	ctx := context.Background()

	up := pos.EntryPrice * 1.10
	e.ApplyMarketTick(ctx, tickAt(pos, up, time.Now()))

	got := e.PositionsByTicker("AAPL")[0]
	assert.InDelta(t, up, got.CurrentPrice, 1e-9)
	assert.InDelta(t, (up-pos.EntryPrice)*float64(pos.Quantity)*domain.ContractMultiplier, got.UnrealizedPnL, 1e-6)
	assert.InDelta(t, 10, got.PnLPercent, 1e-6)
	assert.InDelta(t, got.UnrealizedPnL, got.MaxFavorable, 1e-9)
	assert.NotEmpty(t, got.GreeksHistory)

	down := pos.EntryPrice * 0.95
	e.ApplyMarketTick(ctx, tickAt(pos, down, time.Now()))

	got = e.PositionsByTicker("AAPL")[0]
	assert.Less(t, got.MaxAdverse, 0.0)
	assert.Greater(t, got.MaxFavorable, 0.0, "favorable excursion survives the drawdown")

	sum := e.AccountSummary()
	assert.InDelta(t, got.UnrealizedPnL, sum.UnrealizedPnL, 1e-6)
	assert.InDelta(t, 100_000+got.UnrealizedPnL, sum.CurrentBalance, 1e-6)
	assert.Greater(t, sum.Risk.PortfolioHeat, 0.0)
}

func TestApplyMarketTickWithoutPositionsStillPublishes(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	bus := &recordingBus{}
	e.AttachEgress(bus, nil, nil)

	// No open position on the ticker. Downstream consumers still get the
	// portfolio snapshot for every tick.
	e.ApplyMarketTick(context.Background(), domain.MarketTick{
		Ticker:          "AAPL",
		UnderlyingPrice: 100,
		Timestamp:       time.Now(),
	})

	payloads := bus.all()
	require.NotEmpty(t, payloads)
	assert.Contains(t, payloads[len(payloads)-1], domain.EventPortfolioUpdated)
}

func TestAutoExitProfitTarget(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	pos := mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))

	exitPrice := pos.EntryPrice * 1.6
	e.ApplyMarketTick(context.Background(), tickAt(pos, exitPrice, time.Now()))

	assert.Empty(t, e.OpenPositions())
	closed := e.ClosedPositions()
	require.Len(t, closed, 1)

	got := closed[0]
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.ExitReason)
	assert.Equal(t, domain.ExitReasonProfitTarget, *got.ExitReason)
	assert.InDelta(t, (exitPrice-pos.EntryPrice)*float64(pos.Quantity)*domain.ContractMultiplier, got.RealizedPnL, 1e-6)
	assert.Zero(t, got.UnrealizedPnL)

	sum := e.AccountSummary()
	assert.InDelta(t, got.RealizedPnL, sum.RealizedPnL, 1e-6)
	assert.InDelta(t, 100_000+got.RealizedPnL, sum.AvailableBalance, 1e-6)
	assert.Zero(t, sum.ConsecutiveLosses)
	assert.Empty(t, e.PositionsByTicker("AAPL"))
}

func TestAutoExitStopLoss(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	pos := mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))

	e.ApplyMarketTick(context.Background(), tickAt(pos, pos.EntryPrice*0.4, time.Now()))

	closed := e.ClosedPositions()
	require.Len(t, closed, 1)
	require.NotNil(t, closed[0].ExitReason)
	assert.Equal(t, domain.ExitReasonStopLoss, *closed[0].ExitReason)
	assert.Less(t, closed[0].RealizedPnL, 0.0)
	assert.Equal(t, 1, e.AccountSummary().ConsecutiveLosses)
}

func TestAutoExitTrailingStop(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	pos := mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))
	ctx := context.Background()

	// Run up 40%, then give back down to +10%: a 21% drop off the
	// high-water mark while still profitable.
	e.ApplyMarketTick(ctx, tickAt(pos, pos.EntryPrice*1.4, time.Now()))
	require.Len(t, e.OpenPositions(), 1)

	e.ApplyMarketTick(ctx, tickAt(pos, pos.EntryPrice*1.1, time.Now()))

	closed := e.ClosedPositions()
	require.Len(t, closed, 1)
	require.NotNil(t, closed[0].ExitReason)
	assert.Equal(t, domain.ExitReasonStopLoss, *closed[0].ExitReason)
	assert.Greater(t, closed[0].RealizedPnL, 0.0)
}

func TestAutoExitExpirationMarksExpired(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	pos := mustOpen(t, e, tradeRequest("AAPL", 5_000, time.Now().Add(3*time.Hour)))

	e.ApplyMarketTick(context.Background(), tickAt(pos, pos.EntryPrice, time.Now()))

	closed := e.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.PositionStatusExpired, closed[0].Status)
	require.NotNil(t, closed[0].ExitReason)
	assert.Equal(t, domain.ExitReasonExpiration, *closed[0].ExitReason)
}

func TestLowConfidenceSignalDoesNotAutoExit(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	sink := &recordingSink{}
	e.SetAlertSink(sink)

	pos := mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))
	ctx := context.Background()

	// Turn profitable (arms the breakeven stop), then give it all back. The
	// breakeven stop fires at 0.7 confidence, under the 0.8 auto-exit bar.
	e.ApplyMarketTick(ctx, tickAt(pos, pos.EntryPrice*1.05, time.Now()))
	e.ApplyMarketTick(ctx, tickAt(pos, pos.EntryPrice*0.97, time.Now()))
	e.ApplyMarketTick(ctx, tickAt(pos, pos.EntryPrice*0.97, time.Now()))

	require.Len(t, e.OpenPositions(), 1, "position must stay open")

	// The condition re-arms after a pass that was surfaced but not acted on,
	// so it alerts on every tick while the breach holds.
	var breakevens int
	for _, sig := range sink.all() {
		if sig.Kind == domain.ExitBreakevenStop {
			breakevens++
			assert.Equal(t, pos.ID, sig.PositionID)
		}
	}
	assert.GreaterOrEqual(t, breakevens, 2)
}

func TestSweepExitsClosesNearExpiry(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	mustOpen(t, e, tradeRequest("AAPL", 5_000, time.Now().Add(2*time.Hour)))

	// No tick ever arrives; the periodic sweep still catches the
	// expiration window using the position's last known price.
	e.SweepExits(context.Background())

	assert.Empty(t, e.OpenPositions())
	closed := e.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.PositionStatusExpired, closed[0].Status)
}

func TestClosePositionIdempotent(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	pos := mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))
	ctx := context.Background()

	assert.True(t, e.ClosePosition(ctx, pos.ID, domain.ExitReasonManual))
	assert.False(t, e.ClosePosition(ctx, pos.ID, domain.ExitReasonManual), "second close is a no-op")
	assert.False(t, e.ClosePosition(ctx, "no-such-id", domain.ExitReasonManual))

	require.Len(t, e.ClosedPositions(), 1)
	got := e.ClosedPositions()[0]
	require.NotNil(t, got.ClosedAt)
	require.NotNil(t, got.ExitPrice)
	assert.Equal(t, domain.ExitReasonManual, *got.ExitReason)
}

func TestForceCloseAll(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))
	mustOpen(t, e, tradeRequest("MSFT", 5_000, farExpiry()))

	n := e.ForceCloseAll(context.Background(), domain.ExitReasonRiskManagement)
	assert.Equal(t, 2, n)
	assert.Empty(t, e.OpenPositions())
	assert.Len(t, e.ClosedPositions(), 2)

	// Exit at the unchanged entry price: all committed capital comes back.
	sum := e.AccountSummary()
	assert.InDelta(t, 100_000, sum.AvailableBalance, 1e-6)
	assert.Zero(t, sum.RealizedPnL)

	assert.Zero(t, e.ForceCloseAll(context.Background(), domain.ExitReasonRiskManagement))
}

func TestResetAccount(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	pos := mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))
	e.ApplyMarketTick(context.Background(), tickAt(pos, pos.EntryPrice*1.1, time.Now()))

	e.ResetAccount(context.Background(), 50_000)

	sum := e.AccountSummary()
	assert.Equal(t, 50_000.0, sum.InitialBalance)
	assert.Equal(t, 50_000.0, sum.CurrentBalance)
	assert.Equal(t, 50_000.0, sum.AvailableBalance)
	assert.Zero(t, sum.OpenPositions)
	assert.Zero(t, sum.ClosedPositions)
	assert.Zero(t, sum.RealizedPnL)
	assert.Empty(t, e.PositionsByTicker("AAPL"))
}

func TestConsecutiveLossTracking(t *testing.T) {
	e := newTestEngine(Config{InitialBalance: 100_000, AutoExit: false})
	ctx := context.Background()

	a := mustOpen(t, e, tradeRequest("AAPL", 5_000, farExpiry()))
	b := mustOpen(t, e, tradeRequest("MSFT", 5_000, farExpiry()))
	c := mustOpen(t, e, tradeRequest("NVDA", 5_000, farExpiry()))

	e.ApplyMarketTick(ctx, tickAt(a, a.EntryPrice*0.9, time.Now()))
	e.ClosePosition(ctx, a.ID, domain.ExitReasonManual)
	assert.Equal(t, 1, e.AccountSummary().ConsecutiveLosses)

	e.ApplyMarketTick(ctx, tickAt(b, b.EntryPrice*0.9, time.Now()))
	e.ClosePosition(ctx, b.ID, domain.ExitReasonManual)
	assert.Equal(t, 2, e.AccountSummary().ConsecutiveLosses)

	// A winner resets the streak.
	e.ApplyMarketTick(ctx, tickAt(c, c.EntryPrice*1.2, time.Now()))
	e.ClosePosition(ctx, c.ID, domain.ExitReasonManual)
	assert.Zero(t, e.AccountSummary().ConsecutiveLosses)
}
