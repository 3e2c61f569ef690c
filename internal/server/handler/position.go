package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// PositionReader is the engine surface the position handler requires.
type PositionReader interface {
	OpenPositions() []domain.Position
	PositionsByTicker(ticker string) []domain.Position
	ClosedPositions() []domain.Position
	ClosePosition(ctx context.Context, id string, reason domain.ExitReason) bool
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	engine PositionReader
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given engine and logger.
func NewPositionHandler(engine PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		engine: engine,
		logger: logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListOpen returns all open positions, optionally filtered by ticker.
// GET /api/positions?ticker=SPY
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	var positions []domain.Position
	if ticker := r.URL.Query().Get("ticker"); ticker != "" {
		positions = h.engine.PositionsByTicker(ticker)
	} else {
		positions = h.engine.OpenPositions()
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ListClosed returns the session's closed positions, newest first.
// GET /api/positions/closed
func (h *PositionHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	positions := h.engine.ClosedPositions()
	// Newest first; the engine appends in close order.
	for i, j := 0, len(positions)-1; i < j; i, j = i+1, j-1 {
		positions[i], positions[j] = positions[j], positions[i]
	}
	if opts.Offset < len(positions) {
		positions = positions[opts.Offset:]
	} else {
		positions = nil
	}
	if opts.Limit > 0 && opts.Limit < len(positions) {
		positions = positions[:opts.Limit]
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// Close closes one open position at its current price with reason MANUAL.
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	if !h.engine.ClosePosition(r.Context(), id, domain.ExitReasonManual) {
		writeError(w, http.StatusNotFound, "position not open")
		return
	}

	h.logger.InfoContext(r.Context(), "position closed via api",
		slog.String("position_id", id),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "id": id})
}
