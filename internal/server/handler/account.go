package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// AccountReader is the engine surface the account handler requires.
type AccountReader interface {
	AccountSummary() domain.AccountSummary
}

// AccountHandler serves the account summary endpoint.
type AccountHandler struct {
	engine AccountReader
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given engine and logger.
func NewAccountHandler(engine AccountReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		engine: engine,
		logger: logger,
	}
}

// GetAccount returns the current account summary including risk and
// performance metrics.
// GET /api/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.AccountSummary())
}
