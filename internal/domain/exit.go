package domain

import "time"

// ExitConditionKind enumerates the rule types an exit condition can carry.
type ExitConditionKind string

const (
	ExitProfitTarget  ExitConditionKind = "PROFIT_TARGET"
	ExitStopLoss      ExitConditionKind = "STOP_LOSS"
	ExitTrailingStop  ExitConditionKind = "TRAILING_STOP"
	ExitTimeDecay     ExitConditionKind = "TIME_DECAY"
	ExitExpiration    ExitConditionKind = "EXPIRATION"
	ExitBreakevenStop ExitConditionKind = "BREAKEVEN_STOP"
)

// ExitConditionState is the lifecycle of a single condition. Most conditions
// are born armed; the breakeven stop is born disabled and arms itself the
// first time the position turns profitable.
type ExitConditionState string

const (
	ExitStateDisabled ExitConditionState = "DISABLED"
	ExitStateArmed    ExitConditionState = "ARMED"
	ExitStateFired    ExitConditionState = "FIRED"
)

// ExitCondition is one evaluable exit rule bound to a position. Priority is
// the tie-break when two fired conditions share an urgency rank; lower wins.
type ExitCondition struct {
	Kind     ExitConditionKind
	State    ExitConditionState
	Priority int

	// Threshold parameters. Interpretation depends on Kind:
	// PROFIT_TARGET / STOP_LOSS / TRAILING_STOP: percent of entry price.
	// TIME_DECAY: minimum days-to-expiration before the rule fires.
	// EXPIRATION: force-exit window in hours before expiry.
	Threshold float64

	// HighWaterMark is maintained by the trailing stop: the highest price
	// observed since entry. Only ratchets upward.
	HighWaterMark float64
}

// SignalUrgency ranks how quickly an exit signal should be acted upon.
type SignalUrgency int

const (
	UrgencyLow SignalUrgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

// String returns the display name of the urgency rank.
func (u SignalUrgency) String() string {
	switch u {
	case UrgencyCritical:
		return "CRITICAL"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ExitSignal is the product of evaluating one exit condition against the
// current position state.
type ExitSignal struct {
	PositionID  string
	Ticker      string
	Kind        ExitConditionKind
	Reason      ExitReason
	ExitPrice   float64
	Confidence  float64 // 0..1
	Urgency     SignalUrgency
	Priority    int // static priority of the originating condition
	Message     string
	TriggeredAt time.Time
}
