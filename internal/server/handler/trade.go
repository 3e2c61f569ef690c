package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// TradeExecutor is the engine surface the trade handler requires.
type TradeExecutor interface {
	ExecuteTrade(ctx context.Context, req domain.TradeRequest) (string, error)
}

// TradeHandler serves the trade submission endpoint.
type TradeHandler struct {
	engine TradeExecutor
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given engine and logger.
func NewTradeHandler(engine TradeExecutor, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		engine: engine,
		logger: logger,
	}
}

// tradeRequestBody is the JSON wire shape of a trade submission.
type tradeRequestBody struct {
	Ticker         string  `json:"ticker"`
	SignalID       string  `json:"signal_id"`
	Confidence     float64 `json:"confidence"`
	ExpectedMove   float64 `json:"expected_move"`
	PositionSize   float64 `json:"position_size"`
	Recommendation struct {
		Strike       float64 `json:"strike"`
		Expiration   string  `json:"expiration"` // RFC3339
		Type         string  `json:"type"`       // CALL or PUT
		Price        float64 `json:"price"`
		BidAskSpread float64 `json:"bid_ask_spread"`
		Underlying   float64 `json:"underlying"`
		Liquidity    string  `json:"liquidity"`
		ImpliedVol   float64 `json:"implied_vol"`
	} `json:"recommendation"`
}

// Execute submits a trade request to the engine.
// POST /api/trades
func (h *TradeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var body tradeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	expiration, err := time.Parse(time.RFC3339, body.Recommendation.Expiration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "recommendation.expiration must be RFC3339")
		return
	}

	req := domain.TradeRequest{
		Ticker:       body.Ticker,
		SignalID:     body.SignalID,
		Confidence:   body.Confidence,
		ExpectedMove: body.ExpectedMove,
		PositionSize: body.PositionSize,
		Recommendation: &domain.ContractRecommendation{
			Contract: domain.OptionContract{
				Ticker:     body.Ticker,
				Strike:     body.Recommendation.Strike,
				Expiration: expiration,
				Type:       domain.OptionType(body.Recommendation.Type),
			},
			Price:        body.Recommendation.Price,
			BidAskSpread: body.Recommendation.BidAskSpread,
			Underlying:   body.Recommendation.Underlying,
			Liquidity:    domain.LiquidityRating(body.Recommendation.Liquidity),
			ImpliedVol:   body.Recommendation.ImpliedVol,
		},
	}

	id, err := h.engine.ExecuteTrade(r.Context(), req)
	if err != nil {
		if ve, ok := domain.AsValidationError(err); ok {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		if rr, ok := domain.AsRiskLimitRejection(err); ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":         rr.Reason,
				"max_safe_size": rr.MaxSafeSize,
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "trade execution failed",
			slog.String("ticker", req.Ticker),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "trade execution failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"position_id": id})
}
