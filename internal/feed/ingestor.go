// Package feed funnels concurrent market-data ticks into the engine's
// single serialization point and drives the periodic exit-condition sweep.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// TickApplier is the engine surface the ingestor drives.
type TickApplier interface {
	ApplyMarketTick(ctx context.Context, tick domain.MarketTick)
	SweepExits(ctx context.Context)
}

// Ingestor accepts ticks from any number of goroutines and delivers them to
// the engine one at a time. Ticks are coalesced per ticker: when ingestion
// outruns processing, only the latest tick for each ticker is applied, so
// the pending set stays bounded by the number of tickers instead of growing
// without limit.
type Ingestor struct {
	engine        TickApplier
	sweepInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	pending map[string]domain.MarketTick
	wake    chan struct{}
}

// NewIngestor creates an Ingestor. sweepInterval drives the periodic exit
// sweep; zero disables it.
func NewIngestor(engine TickApplier, sweepInterval time.Duration, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		engine:        engine,
		sweepInterval: sweepInterval,
		logger:        logger.With(slog.String("component", "tick_ingestor")),
		pending:       make(map[string]domain.MarketTick),
		wake:          make(chan struct{}, 1),
	}
}

// Submit records a tick for delivery, replacing any pending tick for the
// same ticker. Never blocks; safe for concurrent use.
func (in *Ingestor) Submit(tick domain.MarketTick) {
	in.mu.Lock()
	in.pending[tick.Ticker] = tick
	in.mu.Unlock()

	select {
	case in.wake <- struct{}{}:
	default:
	}
}

// Run delivers pending ticks to the engine until ctx is cancelled. A single
// delivery goroutine guarantees ticks for different tickers never race into
// the engine, while one slow ticker cannot starve the rest: the whole
// pending batch is drained each wakeup.
func (in *Ingestor) Run(ctx context.Context) error {
	in.logger.Info("tick ingestor started", slog.Duration("sweep_interval", in.sweepInterval))
	defer in.logger.Info("tick ingestor stopped")

	var sweep <-chan time.Time
	if in.sweepInterval > 0 {
		ticker := time.NewTicker(in.sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-in.wake:
			for _, tick := range in.drain() {
				in.engine.ApplyMarketTick(ctx, tick)
			}
		case <-sweep:
			in.engine.SweepExits(ctx)
		}
	}
}

// drain swaps out the pending set.
func (in *Ingestor) drain() []domain.MarketTick {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.pending) == 0 {
		return nil
	}
	batch := make([]domain.MarketTick, 0, len(in.pending))
	for _, tick := range in.pending {
		batch = append(batch, tick)
	}
	in.pending = make(map[string]domain.MarketTick)
	return batch
}
