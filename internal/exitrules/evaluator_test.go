package exitrules

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func openPosition(e *Evaluator, entryPrice float64) *domain.Position {
	return &domain.Position{
		ID:             "pos-1",
		Ticker:         "NVDA",
		EntryPrice:     entryPrice,
		Status:         domain.PositionStatusOpen,
		ExitConditions: e.ConditionsFor(entryPrice),
	}
}

func quietCtx(price, pnlPct float64) Context {
	return Context{
		CurrentPrice:     price,
		PnLPercent:       pnlPct,
		DaysToExpiration: 30,
		Now:              time.Now(),
	}
}

func findCondition(pos *domain.Position, kind domain.ExitConditionKind) *domain.ExitCondition {
	for _, c := range pos.ExitConditions {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

func TestConditionsForDefaults(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)

	require.Len(t, pos.ExitConditions, 6)

	be := findCondition(pos, domain.ExitBreakevenStop)
	require.NotNil(t, be)
	assert.Equal(t, domain.ExitStateDisabled, be.State)

	ts := findCondition(pos, domain.ExitTrailingStop)
	require.NotNil(t, ts)
	assert.Equal(t, domain.ExitStateArmed, ts.State)
	assert.Equal(t, 5.00, ts.HighWaterMark)

	for _, kind := range []domain.ExitConditionKind{
		domain.ExitStopLoss, domain.ExitExpiration, domain.ExitProfitTarget, domain.ExitTimeDecay,
	} {
		c := findCondition(pos, kind)
		require.NotNil(t, c, "missing %s", kind)
		assert.Equal(t, domain.ExitStateArmed, c.State, "%s", kind)
	}
}

func TestEvaluateNothingFired(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)

	all, chosen := e.Evaluate(pos, quietCtx(5.10, 2))
	assert.Nil(t, all)
	assert.Nil(t, chosen)
}

func TestEvaluateProfitTarget(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)

	all, chosen := e.Evaluate(pos, quietCtx(7.60, 52))
	require.NotNil(t, chosen)
	assert.Len(t, all, 1)
	assert.Equal(t, domain.ExitReasonProfitTarget, chosen.Reason)
	assert.Equal(t, domain.UrgencyHigh, chosen.Urgency)
	assert.Equal(t, 0.9, chosen.Confidence)
	assert.Equal(t, 7.60, chosen.ExitPrice)

	pt := findCondition(pos, domain.ExitProfitTarget)
	assert.Equal(t, domain.ExitStateFired, pt.State)
}

func TestEvaluateStopLossOutranksEverything(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)

	// Deep loss close to expiry: stop loss, time decay, and expiration can
	// all fire; stop loss and expiration share CRITICAL urgency and stop
	// loss wins the priority tie-break.
	ctx := Context{
		CurrentPrice:     2.00,
		PnLPercent:       -60,
		DaysToExpiration: 0.1, // 2.4h left
		Now:              time.Now(),
	}
	all, chosen := e.Evaluate(pos, ctx)
	require.NotNil(t, chosen)
	assert.GreaterOrEqual(t, len(all), 3)
	assert.Equal(t, domain.ExitStopLoss, chosen.Kind)
	assert.Equal(t, domain.ExitReasonStopLoss, chosen.Reason)
	assert.Equal(t, domain.UrgencyCritical, chosen.Urgency)
	assert.Equal(t, 0.95, chosen.Confidence)
}

func TestEvaluateTrailingStop(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)
	ts := findCondition(pos, domain.ExitTrailingStop)

	// New high ratchets the mark without firing.
	all, chosen := e.Evaluate(pos, quietCtx(6.50, 30))
	assert.Nil(t, chosen)
	assert.Nil(t, all)
	assert.Equal(t, 6.50, ts.HighWaterMark)

	// 10% off the mark: below the 20% threshold, still quiet.
	_, chosen = e.Evaluate(pos, quietCtx(5.85, 17))
	assert.Nil(t, chosen)
	assert.Equal(t, 6.50, ts.HighWaterMark)

	// 20% off the mark while still profitable: fires as a stop-loss exit.
	_, chosen = e.Evaluate(pos, quietCtx(5.20, 4))
	require.NotNil(t, chosen)
	assert.Equal(t, domain.ExitTrailingStop, chosen.Kind)
	assert.Equal(t, domain.ExitReasonStopLoss, chosen.Reason)
	assert.Equal(t, domain.UrgencyHigh, chosen.Urgency)
}

func TestEvaluateTrailingStopNeedsPositivePnL(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)

	// 40% off the high-water mark but underwater overall: the plain stop
	// loss owns this region, the trailing stop stays quiet.
	_, chosen := e.Evaluate(pos, quietCtx(3.00, -40))
	assert.Nil(t, chosen)
}

func TestEvaluateBreakevenStopLifecycle(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)
	be := findCondition(pos, domain.ExitBreakevenStop)

	// Underwater from the start: the disabled breakeven stop never arms.
	_, chosen := e.Evaluate(pos, quietCtx(4.80, -4))
	assert.Nil(t, chosen)
	assert.Equal(t, domain.ExitStateDisabled, be.State)

	// First profitable pass arms it.
	_, chosen = e.Evaluate(pos, quietCtx(5.40, 8))
	assert.Nil(t, chosen)
	assert.Equal(t, domain.ExitStateArmed, be.State)

	// Profit given back: fires at MEDIUM urgency.
	_, chosen = e.Evaluate(pos, quietCtx(4.95, -1))
	require.NotNil(t, chosen)
	assert.Equal(t, domain.ExitBreakevenStop, chosen.Kind)
	assert.Equal(t, domain.UrgencyMedium, chosen.Urgency)
	assert.Equal(t, 0.7, chosen.Confidence)
	assert.Equal(t, domain.ExitStateFired, be.State)
}

func TestEvaluateTimeDecayNeedsLosingPosition(t *testing.T) {
	e := newTestEvaluator()

	ctx := quietCtx(5.30, 6)
	ctx.DaysToExpiration = 3
	_, chosen := e.Evaluate(openPosition(e, 5.00), ctx)
	assert.Nil(t, chosen, "profitable position should ride out theta")

	ctx = quietCtx(4.90, -2)
	ctx.DaysToExpiration = 3
	_, chosen = e.Evaluate(openPosition(e, 5.00), ctx)
	require.NotNil(t, chosen)
	assert.Equal(t, domain.ExitTimeDecay, chosen.Kind)
	assert.Equal(t, domain.ExitReasonTimeDecay, chosen.Reason)
}

func TestEvaluateExpirationWindow(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)

	ctx := quietCtx(5.60, 12)
	ctx.DaysToExpiration = 3.0 / 24 // 3h left, inside the 4h window
	_, chosen := e.Evaluate(pos, ctx)
	require.NotNil(t, chosen)
	assert.Equal(t, domain.ExitExpiration, chosen.Kind)
	assert.Equal(t, domain.ExitReasonExpiration, chosen.Reason)
	assert.Equal(t, domain.UrgencyCritical, chosen.Urgency)
}

func TestEvaluateFiredConditionSkippedOnNextPass(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)

	_, chosen := e.Evaluate(pos, quietCtx(7.60, 52))
	require.NotNil(t, chosen)
	require.Equal(t, domain.ExitProfitTarget, chosen.Kind)

	// Same conditions again: the fired profit target must not re-fire.
	all, chosen := e.Evaluate(pos, quietCtx(7.60, 52))
	assert.Nil(t, chosen)
	assert.Nil(t, all)
}

func TestRearmLetsConditionFireAgain(t *testing.T) {
	e := newTestEvaluator()
	pos := openPosition(e, 5.00)

	_, chosen := e.Evaluate(pos, quietCtx(7.60, 52))
	require.NotNil(t, chosen)
	require.Equal(t, domain.ExitProfitTarget, chosen.Kind)

	e.Rearm(pos, domain.ExitProfitTarget)
	pt := findCondition(pos, domain.ExitProfitTarget)
	assert.Equal(t, domain.ExitStateArmed, pt.State)

	// While the target still holds, the re-armed condition fires again.
	_, chosen = e.Evaluate(pos, quietCtx(7.60, 52))
	require.NotNil(t, chosen)
	assert.Equal(t, domain.ExitProfitTarget, chosen.Kind)

	// Re-arming a condition that never fired is a no-op.
	sl := findCondition(pos, domain.ExitStopLoss)
	require.Equal(t, domain.ExitStateArmed, sl.State)
	e.Rearm(pos, domain.ExitStopLoss)
	assert.Equal(t, domain.ExitStateArmed, sl.State)
}
