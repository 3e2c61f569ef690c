package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// tickMessage is the JSON wire shape of one market-data update.
type tickMessage struct {
	Ticker          string             `json:"ticker"`
	UnderlyingPrice float64            `json:"underlying_price"`
	OptionPrices    map[string]float64 `json:"option_prices"`
	ImpliedVols     map[string]float64 `json:"implied_vols"`
	Timestamp       string             `json:"timestamp"`
}

// subscribeMessage asks the feed for updates on a set of tickers.
type subscribeMessage struct {
	Type    string   `json:"type"`
	Tickers []string `json:"tickers"`
}

// MarketDataWSFeed connects to the market-data WebSocket, subscribes to the
// configured tickers, and submits each parsed tick to the ingestor. It
// reconnects with backoff on disconnect. The feed owns per-ticker delivery
// ordering; cross-ticker ordering is whatever the wire produced.
type MarketDataWSFeed struct {
	wsURL     string
	tickers   []string
	ingestor  *Ingestor
	prices    domain.PriceCache // optional: latest underlying price per ticker
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewMarketDataWSFeed creates a feed for the given tickers.
func NewMarketDataWSFeed(wsURL string, tickers []string, ingestor *Ingestor, prices domain.PriceCache, logger *slog.Logger) *MarketDataWSFeed {
	return &MarketDataWSFeed{
		wsURL:    wsURL,
		tickers:  tickers,
		ingestor: ingestor,
		prices:   prices,
		logger:   logger.With(slog.String("component", "marketdata_ws_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects and reads ticks until ctx is cancelled, reconnecting with a
// fixed backoff on disconnect.
func (f *MarketDataWSFeed) Run(ctx context.Context) error {
	if len(f.tickers) == 0 {
		f.logger.Info("no tickers to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("market data ws disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *MarketDataWSFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	sub := subscribeMessage{Type: "subscribe", Tickers: f.tickers}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("market data ws subscribed", slog.Int("tickers", len(f.tickers)))

	// Close the connection when the context ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		f.handleMessage(ctx, data)
	}
}

func (f *MarketDataWSFeed) handleMessage(ctx context.Context, data []byte) {
	var msg tickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("unparseable feed message",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	if msg.Ticker == "" {
		return
	}

	ts := time.Now().UTC()
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		}
	}

	tick := domain.MarketTick{
		Ticker:          msg.Ticker,
		UnderlyingPrice: msg.UnderlyingPrice,
		OptionPrices:    msg.OptionPrices,
		ImpliedVols:     msg.ImpliedVols,
		Timestamp:       ts,
	}
	f.ingestor.Submit(tick)

	if f.prices != nil && tick.UnderlyingPrice > 0 {
		if err := f.prices.SetPrice(ctx, tick.Ticker, tick.UnderlyingPrice, ts); err != nil {
			f.logger.Debug("price cache update failed",
				slog.String("ticker", tick.Ticker),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close stops the feed.
func (f *MarketDataWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
