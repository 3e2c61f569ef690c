package domain

// Event names published on the signal bus. Consumers (persistence layer,
// dashboards, alerting) subscribe out of process; the engine never blocks on
// delivery.
const (
	EventTradeExecuted    = "trade-executed"
	EventTradeFailed      = "trade-failed"
	EventPositionUpdated  = "position-updated"
	EventPositionClosed   = "position-closed"
	EventPortfolioUpdated = "portfolio-updated"
)

// EventChannel is the pub/sub channel all engine events go out on.
const EventChannel = "engine-events"
