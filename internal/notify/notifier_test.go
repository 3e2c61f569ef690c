package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

type fakeSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	bodies []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, message)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"exit_signal"}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "position_closed", "t", "m"))
	assert.Zero(t, s.sent(), "filtered event must not dispatch")

	require.NoError(t, n.Notify(ctx, "exit_signal", "t", "m"))
	assert.Equal(t, 1, s.sent())
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Equal(t, 1, s.sent())
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "exit_signal", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 1, good.sent(), "healthy sender still delivers")
}

func TestNotifyNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.NoError(t, n.Notify(context.Background(), "exit_signal", "t", "m"))
}

func TestFormatExitSignal(t *testing.T) {
	msg := formatExitSignal(domain.ExitSignal{
		PositionID: "pos-1",
		Ticker:     "AAPL",
		Kind:       domain.ExitProfitTarget,
		Reason:     domain.ExitReasonProfitTarget,
		ExitPrice:  7.65,
		Confidence: 0.9,
		Urgency:    domain.UrgencyHigh,
		Message:    "profit target reached",
	})

	assert.Contains(t, msg, "pos-1")
	assert.Contains(t, msg, "PROFIT_TARGET")
	assert.Contains(t, msg, "7.65")
	assert.Contains(t, msg, "90%")
	assert.Contains(t, msg, "HIGH")
	assert.Contains(t, msg, "profit target reached")
}
