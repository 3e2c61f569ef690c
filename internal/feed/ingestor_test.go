package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// fakeApplier records engine calls and signals each delivery.
type fakeApplier struct {
	mu      sync.Mutex
	applied []domain.MarketTick
	sweeps  int
	done    chan struct{}
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{done: make(chan struct{}, 64)}
}

func (f *fakeApplier) ApplyMarketTick(_ context.Context, tick domain.MarketTick) {
	f.mu.Lock()
	f.applied = append(f.applied, tick)
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeApplier) SweepExits(context.Context) {
	f.mu.Lock()
	f.sweeps++
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeApplier) appliedTicks() []domain.MarketTick {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MarketTick(nil), f.applied...)
}

func (f *fakeApplier) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tick(ticker string, price float64) domain.MarketTick {
	return domain.MarketTick{Ticker: ticker, UnderlyingPrice: price, Timestamp: time.Now()}
}

func TestSubmitCoalescesPerTicker(t *testing.T) {
	in := NewIngestor(newFakeApplier(), 0, discardLogger())

	in.Submit(tick("AAPL", 100))
	in.Submit(tick("AAPL", 101))
	in.Submit(tick("MSFT", 400))

	batch := in.drain()
	require.Len(t, batch, 2)

	byTicker := map[string]domain.MarketTick{}
	for _, tk := range batch {
		byTicker[tk.Ticker] = tk
	}
	assert.Equal(t, 101.0, byTicker["AAPL"].UnderlyingPrice, "latest tick wins")
	assert.Equal(t, 400.0, byTicker["MSFT"].UnderlyingPrice)

	assert.Nil(t, in.drain(), "pending set is consumed")
}

func TestRunDeliversSubmittedTicks(t *testing.T) {
	applier := newFakeApplier()
	in := NewIngestor(applier, 0, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- in.Run(ctx) }()

	in.Submit(tick("AAPL", 100))

	select {
	case <-applier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not delivered")
	}

	ticks := applier.appliedTicks()
	require.Len(t, ticks, 1)
	assert.Equal(t, "AAPL", ticks[0].Ticker)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestRunDrivesPeriodicSweep(t *testing.T) {
	applier := newFakeApplier()
	in := NewIngestor(applier, 10*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = in.Run(ctx) }()

	select {
	case <-applier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never ran")
	}
	assert.GreaterOrEqual(t, applier.sweepCount(), 1)
}

func TestSubmitNeverBlocks(t *testing.T) {
	in := NewIngestor(newFakeApplier(), 0, discardLogger())

	// No Run loop draining the wake channel: repeated submits must still
	// return immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1_000; i++ {
			in.Submit(tick("AAPL", float64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked")
	}

	batch := in.drain()
	require.Len(t, batch, 1)
	assert.Equal(t, 999.0, batch[0].UnderlyingPrice)
}
