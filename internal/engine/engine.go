// Package engine implements the position lifecycle manager: the single-writer
// core that owns the account, creates positions from sized trade requests,
// applies market ticks, evaluates exit rules, and closes positions. All
// mutation is serialized behind one mutex because every tick recomputes
// cross-position aggregates that are invalid if read mid-mutation.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/optionsim/internal/domain"
	"github.com/alanyoungcy/optionsim/internal/execution"
	"github.com/alanyoungcy/optionsim/internal/exitrules"
	"github.com/alanyoungcy/optionsim/internal/greeks"
	"github.com/alanyoungcy/optionsim/internal/risk"
)

// AlertSink receives every fired exit signal, actionable or not. The alerting
// layer decides on delivery; the engine never blocks on it.
type AlertSink interface {
	ExitSignal(ctx context.Context, sig domain.ExitSignal)
}

// Config holds the engine's tunable behavior.
type Config struct {
	InitialBalance    float64
	AutoExit          bool    // act on chosen exit signals automatically
	MinExitConfidence float64 // auto-exit only at or above this confidence
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		InitialBalance:    100_000,
		AutoExit:          true,
		MinExitConfidence: 0.8,
	}
}

// Engine is the position lifecycle manager for one simulated account.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	account  domain.Account
	open     map[string]*domain.Position // id -> position
	byTicker map[string]map[string]bool  // ticker -> id set
	closed   []*domain.Position
	lastTick map[string]domain.MarketTick

	sim        *execution.Simulator
	tracker    *greeks.Tracker
	evaluator  *exitrules.Evaluator
	aggregator *risk.Aggregator
	governor   *risk.Governor

	bus    domain.SignalBus           // optional event egress
	store  domain.ClosedPositionStore // optional archive
	audit  domain.AuditStore          // optional audit log
	alerts AlertSink                  // optional alert egress

	logger *slog.Logger
}

// New creates an Engine with a fresh account at the configured balance.
func New(
	cfg Config,
	sim *execution.Simulator,
	tracker *greeks.Tracker,
	evaluator *exitrules.Evaluator,
	aggregator *risk.Aggregator,
	governor *risk.Governor,
	logger *slog.Logger,
) *Engine {
	if cfg.MinExitConfidence <= 0 {
		cfg.MinExitConfidence = 0.8
	}
	e := &Engine{
		cfg:        cfg,
		sim:        sim,
		tracker:    tracker,
		evaluator:  evaluator,
		aggregator: aggregator,
		governor:   governor,
		logger:     logger.With(slog.String("component", "engine")),
	}
	e.initAccountLocked(cfg.InitialBalance)
	return e
}

// AttachEgress wires the optional event, archive, and audit sinks. Any of
// them may be nil. Must be called before the engine starts receiving ticks.
func (e *Engine) AttachEgress(bus domain.SignalBus, store domain.ClosedPositionStore, audit domain.AuditStore) {
	e.bus = bus
	e.store = store
	e.audit = audit
}

// SetAlertSink wires the alert egress.
func (e *Engine) SetAlertSink(sink AlertSink) {
	e.alerts = sink
}

// initAccountLocked resets all account state. Caller must hold the lock (or
// be the constructor).
func (e *Engine) initAccountLocked(balance float64) {
	e.account = domain.Account{
		InitialBalance:   balance,
		CurrentBalance:   balance,
		AvailableBalance: balance,
		PeakBalance:      balance,
		Performance:      domain.PerformanceMetrics{ByTicker: make(map[string]domain.TickerPerformance)},
	}
	e.open = make(map[string]*domain.Position)
	e.byTicker = make(map[string]map[string]bool)
	e.closed = nil
	e.lastTick = make(map[string]domain.MarketTick)
}

// ---------------------------------------------------------------------------
// Trade entry
// ---------------------------------------------------------------------------

// ExecuteTrade validates, sizes, and fills a trade request, creating an open
// position. It returns the new position id, or a *domain.ValidationError /
// *domain.RiskLimitRejection without mutating any state.
func (e *Engine) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (string, error) {
	if err := validateRequest(req, time.Now()); err != nil {
		e.emit(ctx, domain.EventTradeFailed, map[string]any{
			"signal_id": req.SignalID,
			"ticker":    req.Ticker,
			"error":     err.Error(),
		})
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The fill, not the request, is what gets committed: simulate it first
	// and size against the executed price so slippage and impact stay inside
	// the heat caps.
	rec := *req.Recommendation
	exec := e.sim.Simulate(rec)

	decision := e.governor.ValidateAndSize(req, exec.ExecutedPrice, e.portfolioStateLocked())
	if !decision.Approved {
		e.emit(ctx, domain.EventTradeFailed, map[string]any{
			"signal_id": req.SignalID,
			"ticker":    req.Ticker,
			"reason":    decision.Reason,
			"max_safe":  decision.RecommendedSize,
		})
		return "", &domain.RiskLimitRejection{Reason: decision.Reason, MaxSafeSize: decision.RecommendedSize}
	}

	now := time.Now().UTC()

	underlying := rec.Underlying
	if tick, ok := e.lastTick[req.Ticker]; ok && tick.UnderlyingPrice > 0 {
		underlying = tick.UnderlyingPrice
	}
	entryGreeks := e.tracker.EntryGreeks(rec.Contract, underlying, rec.ImpliedVol, now)

	pos := &domain.Position{
		ID:             uuid.New().String(),
		Ticker:         req.Ticker,
		Contract:       rec.Contract,
		SignalID:       req.SignalID,
		Quantity:       decision.Quantity,
		EntryPrice:     exec.ExecutedPrice,
		CurrentPrice:   exec.ExecutedPrice,
		EntryGreeks:    entryGreeks,
		CurrentGreeks:  entryGreeks,
		Status:         domain.PositionStatusOpen,
		OpenedAt:       now,
		Execution:      exec,
		ExitConditions: e.evaluator.ConditionsFor(exec.ExecutedPrice),
	}

	e.open[pos.ID] = pos
	if e.byTicker[pos.Ticker] == nil {
		e.byTicker[pos.Ticker] = make(map[string]bool)
	}
	e.byTicker[pos.Ticker][pos.ID] = true

	e.account.AvailableBalance -= pos.CostBasis()
	e.recomputeAccountLocked(now)

	e.logger.InfoContext(ctx, "trade executed",
		slog.String("position_id", pos.ID),
		slog.String("ticker", pos.Ticker),
		slog.String("contract", pos.Contract.Symbol()),
		slog.Int("quantity", pos.Quantity),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("slippage", exec.Slippage),
		slog.String("quality", string(exec.Quality)),
	)

	e.emit(ctx, domain.EventTradeExecuted, map[string]any{
		"position_id":     pos.ID,
		"ticker":          pos.Ticker,
		"contract":        pos.Contract.Symbol(),
		"signal_id":       pos.SignalID,
		"quantity":        pos.Quantity,
		"requested_price": exec.RequestedPrice,
		"executed_price":  exec.ExecutedPrice,
		"quality":         string(exec.Quality),
	})

	return pos.ID, nil
}

// validateRequest checks request shape before any state is touched.
func validateRequest(req domain.TradeRequest, now time.Time) error {
	switch {
	case req.Ticker == "":
		return &domain.ValidationError{Field: "ticker", Detail: "must not be empty"}
	case req.SignalID == "":
		return &domain.ValidationError{Field: "signal_id", Detail: "must not be empty"}
	case req.Recommendation == nil:
		return &domain.ValidationError{Field: "recommendation", Detail: "must be present"}
	case req.PositionSize <= 0:
		return &domain.ValidationError{Field: "position_size", Detail: "must be positive"}
	case req.Confidence < 0 || req.Confidence > 1:
		return &domain.ValidationError{Field: "confidence", Detail: "must be within [0,1]"}
	case !req.Recommendation.Contract.Expiration.After(now):
		return &domain.ValidationError{Field: "expiration", Detail: "must be in the future"}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// ApplyMarketTick updates every open position on the tick's ticker: price,
// PnL, excursion extrema, Greeks and histories; then recomputes portfolio
// metrics and runs the exit evaluator. Positions whose contract has no price
// in the tick keep their last price but are still evaluated for time-based
// exits.
func (e *Engine) ApplyMarketTick(ctx context.Context, tick domain.MarketTick) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastTick[tick.Ticker] = tick
	now := tick.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	for id := range e.byTicker[tick.Ticker] {
		pos := e.open[id]
		if pos == nil || !pos.IsOpen() {
			continue
		}

		if price, ok := tick.OptionPrice(pos.Contract.Symbol()); ok {
			pos.CurrentPrice = price
			pos.UnrealizedPnL = (price - pos.EntryPrice) * float64(pos.Quantity) * domain.ContractMultiplier
			if pos.EntryPrice > 0 {
				pos.PnLPercent = (price - pos.EntryPrice) / pos.EntryPrice * 100
			}
			if pos.UnrealizedPnL > pos.MaxFavorable {
				pos.MaxFavorable = pos.UnrealizedPnL
			}
			if pos.UnrealizedPnL < pos.MaxAdverse {
				pos.MaxAdverse = pos.UnrealizedPnL
			}
			e.tracker.Update(pos, tick)
		}
	}

	e.recomputeAccountLocked(now)
	e.evaluateExitsLocked(ctx, tick.Ticker, now)

	if e.governor.EmergencyHeatBreached(e.account.Risk.PortfolioHeat) {
		e.logger.WarnContext(ctx, "emergency heat breached, force-closing all positions",
			slog.Float64("heat", e.account.Risk.PortfolioHeat),
		)
		e.forceCloseAllLocked(ctx, domain.ExitReasonPortfolioHeat)
	}

	e.emit(ctx, domain.EventPortfolioUpdated, map[string]any{
		"ticker":         tick.Ticker,
		"heat":           e.account.Risk.PortfolioHeat,
		"open_positions": len(e.open),
		"balance":        e.account.CurrentBalance,
	})
}

// SweepExits runs a periodic exit-condition pass over all open positions
// using the last known tick per ticker. Driven by the feed's sweep timer; it
// shares the engine lock with tick-driven checks so a position can never be
// double-closed.
func (e *Engine) SweepExits(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	for ticker := range e.byTicker {
		e.evaluateExitsLocked(ctx, ticker, now)
	}
}

// evaluateExitsLocked evaluates exit conditions for all open positions on a
// ticker. All fired signals go to the alert sink; the single chosen signal
// closes the position when auto-exit is on and confidence clears the bar.
func (e *Engine) evaluateExitsLocked(ctx context.Context, ticker string, now time.Time) {
	ids := make([]string, 0, len(e.byTicker[ticker]))
	for id := range e.byTicker[ticker] {
		ids = append(ids, id)
	}

	for _, id := range ids {
		pos := e.open[id]
		if pos == nil || !pos.IsOpen() {
			continue
		}

		evalCtx := exitrules.Context{
			CurrentPrice:     pos.CurrentPrice,
			PnLPercent:       pos.PnLPercent,
			DaysToExpiration: pos.Contract.DaysToExpiration(now),
			HoldingDuration:  now.Sub(pos.OpenedAt),
			Now:              now,
		}
		all, chosen := e.evaluator.Evaluate(pos, evalCtx)

		for _, sig := range all {
			if e.alerts != nil {
				e.alerts.ExitSignal(ctx, sig)
			}
		}
		if chosen == nil {
			continue
		}

		if e.cfg.AutoExit && chosen.Confidence >= e.cfg.MinExitConfidence {
			e.closeLocked(ctx, pos.ID, chosen.Reason, chosen.ExitPrice, now)
		} else {
			// Surfaced but not acted on: re-arm so the condition keeps
			// alerting while it still holds.
			e.evaluator.Rearm(pos, chosen.Kind)
			e.logger.InfoContext(ctx, "exit signal surfaced without auto-exit",
				slog.String("position_id", pos.ID),
				slog.String("reason", string(chosen.Reason)),
				slog.Float64("confidence", chosen.Confidence),
				slog.String("urgency", chosen.Urgency.String()),
			)
		}
	}
}

// ---------------------------------------------------------------------------
// Closing
// ---------------------------------------------------------------------------

// ClosePosition closes an open position with the given reason. It returns
// false without error when the id is unknown or the position is already
// closed, making it safe to call twice in rapid succession.
func (e *Engine) ClosePosition(ctx context.Context, id string, reason domain.ExitReason) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.open[id]
	if pos == nil || !pos.IsOpen() {
		return false
	}
	return e.closeLocked(ctx, id, reason, pos.CurrentPrice, time.Now().UTC())
}

// ForceCloseAll closes every open position with the given reason and returns
// the number actually closed.
func (e *Engine) ForceCloseAll(ctx context.Context, reason domain.ExitReason) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forceCloseAllLocked(ctx, reason)
}

func (e *Engine) forceCloseAllLocked(ctx context.Context, reason domain.ExitReason) int {
	ids := make([]string, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	now := time.Now().UTC()
	count := 0
	for _, id := range ids {
		pos := e.open[id]
		// A position can already have been closed mid-iteration (e.g. an
		// emergency close triggered by an earlier close's heat recompute).
		if pos == nil || !pos.IsOpen() {
			continue
		}
		if e.closeLocked(ctx, id, reason, pos.CurrentPrice, now) {
			count++
		}
	}
	return count
}

// closeLocked performs the one-way open -> closed/expired transition. It is
// the only place a position leaves the open indices.
func (e *Engine) closeLocked(ctx context.Context, id string, reason domain.ExitReason, exitPrice float64, now time.Time) bool {
	pos := e.open[id]
	if pos == nil || !pos.IsOpen() {
		return false
	}

	realized := (exitPrice - pos.EntryPrice) * float64(pos.Quantity) * domain.ContractMultiplier

	pos.Status = domain.PositionStatusClosed
	if reason == domain.ExitReasonExpiration {
		pos.Status = domain.PositionStatusExpired
	}
	pos.ClosedAt = &now
	pos.ExitPrice = &exitPrice
	r := reason
	pos.ExitReason = &r
	pos.CurrentPrice = exitPrice
	pos.RealizedPnL = realized
	pos.UnrealizedPnL = 0

	delete(e.open, id)
	if ids := e.byTicker[pos.Ticker]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(e.byTicker, pos.Ticker)
		}
	}
	e.closed = append(e.closed, pos)

	// Release committed capital plus the realized result.
	e.account.AvailableBalance += pos.CostBasis() + realized
	e.account.RealizedPnL += realized
	if realized < 0 {
		e.account.ConsecutiveLosses++
	} else {
		e.account.ConsecutiveLosses = 0
	}

	e.recomputeAccountLocked(now)
	e.account.Performance = computePerformance(e.closed)

	e.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", id),
		slog.String("ticker", pos.Ticker),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", realized),
	)

	e.emit(ctx, domain.EventPositionClosed, map[string]any{
		"position_id":  id,
		"ticker":       pos.Ticker,
		"reason":       string(reason),
		"exit_price":   exitPrice,
		"realized_pnl": realized,
		"status":       string(pos.Status),
	})
	e.archive(ctx, pos)

	return true
}

// ResetAccount force-closes everything with reason MANUAL and reinitializes
// the account at the new balance, clearing closed history and the market
// data cache.
func (e *Engine) ResetAccount(ctx context.Context, newBalance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.forceCloseAllLocked(ctx, domain.ExitReasonManual)
	e.initAccountLocked(newBalance)

	e.logger.InfoContext(ctx, "account reset", slog.Float64("balance", newBalance))
}

// ---------------------------------------------------------------------------
// Account bookkeeping
// ---------------------------------------------------------------------------

// recomputeAccountLocked refreshes the cross-position aggregates: unrealized
// PnL, balances, drawdown, and the risk snapshot.
func (e *Engine) recomputeAccountLocked(now time.Time) {
	var unrealized float64
	positions := make([]*domain.Position, 0, len(e.open))
	for _, p := range e.open {
		unrealized += p.UnrealizedPnL
		positions = append(positions, p)
	}

	e.account.UnrealizedPnL = unrealized
	e.account.CurrentBalance = e.account.InitialBalance + e.account.RealizedPnL + unrealized

	if e.account.CurrentBalance > e.account.PeakBalance {
		e.account.PeakBalance = e.account.CurrentBalance
	}
	if e.account.PeakBalance > 0 {
		dd := (e.account.PeakBalance - e.account.CurrentBalance) / e.account.PeakBalance
		if dd > e.account.MaxDrawdown {
			e.account.MaxDrawdown = dd
		}
	}

	e.account.Risk = e.aggregator.Snapshot(positions, e.account.CurrentBalance, now)
}

// portfolioStateLocked assembles the consistent snapshot the governor sizes
// against.
func (e *Engine) portfolioStateLocked() risk.PortfolioState {
	tickerNotional := make(map[string]float64, len(e.byTicker))
	var openNotional float64
	for _, p := range e.open {
		n := p.Notional()
		openNotional += n
		tickerNotional[p.Ticker] += n
	}
	return risk.PortfolioState{
		CurrentBalance:    e.account.CurrentBalance,
		AvailableBalance:  e.account.AvailableBalance,
		OpenNotional:      openNotional,
		TickerNotional:    tickerNotional,
		MaxDrawdown:       e.account.MaxDrawdown,
		ConsecutiveLosses: e.account.ConsecutiveLosses,
	}
}

// ---------------------------------------------------------------------------
// Read surface
// ---------------------------------------------------------------------------

// AccountSummary returns a consistent read-only view of the account.
func (e *Engine) AccountSummary() domain.AccountSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.AccountSummary{
		InitialBalance:    e.account.InitialBalance,
		CurrentBalance:    e.account.CurrentBalance,
		AvailableBalance:  e.account.AvailableBalance,
		RealizedPnL:       e.account.RealizedPnL,
		UnrealizedPnL:     e.account.UnrealizedPnL,
		MaxDrawdown:       e.account.MaxDrawdown,
		ConsecutiveLosses: e.account.ConsecutiveLosses,
		OpenPositions:     len(e.open),
		ClosedPositions:   len(e.closed),
		Risk:              e.account.Risk,
		Performance:       e.account.Performance,
	}
}

// OpenPositions returns copies of all open positions.
func (e *Engine) OpenPositions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.open))
	for _, p := range e.open {
		out = append(out, *p)
	}
	return out
}

// PositionsByTicker returns copies of the open positions for one ticker.
func (e *Engine) PositionsByTicker(ticker string) []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.byTicker[ticker]))
	for id := range e.byTicker[ticker] {
		if p := e.open[id]; p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// ClosedPositions returns copies of the closed record, newest last.
func (e *Engine) ClosedPositions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.closed))
	for _, p := range e.closed {
		out = append(out, *p)
	}
	return out
}

// ---------------------------------------------------------------------------
// Egress
// ---------------------------------------------------------------------------

// emit publishes a domain event on the bus and mirrors it into the audit
// log. Failures are logged and never propagated: the core does not block on
// persistence or delivery.
func (e *Engine) emit(ctx context.Context, event string, detail map[string]any) {
	if e.bus != nil {
		payload, err := json.Marshal(map[string]any{
			"event":  event,
			"detail": detail,
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err == nil {
			if pubErr := e.bus.Publish(ctx, domain.EventChannel, payload); pubErr != nil {
				e.logger.WarnContext(ctx, "event publish failed",
					slog.String("event", event),
					slog.String("error", pubErr.Error()),
				)
			}
			if streamErr := e.bus.StreamAppend(ctx, domain.EventChannel, payload); streamErr != nil {
				e.logger.DebugContext(ctx, "event stream append failed",
					slog.String("event", event),
					slog.String("error", streamErr.Error()),
				)
			}
		}
	}
	if e.audit != nil {
		if err := e.audit.Log(ctx, event, detail); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// archive persists a closed position fire-and-forget.
func (e *Engine) archive(ctx context.Context, pos *domain.Position) {
	if e.store == nil {
		return
	}
	if err := e.store.Insert(ctx, *pos); err != nil {
		e.logger.WarnContext(ctx, "closed position archive failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}
