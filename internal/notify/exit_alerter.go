package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// ExitAlerter adapts a Notifier to the engine's alert sink. Every fired exit
// signal becomes an "exit_signal" notification; delivery runs in its own
// goroutine so the engine never waits on a sender.
type ExitAlerter struct {
	notifier *Notifier
}

// NewExitAlerter creates an ExitAlerter on top of the given Notifier.
func NewExitAlerter(notifier *Notifier) *ExitAlerter {
	return &ExitAlerter{notifier: notifier}
}

// ExitSignal formats and dispatches one exit signal. Errors are handled and
// logged inside the Notifier.
func (a *ExitAlerter) ExitSignal(ctx context.Context, sig domain.ExitSignal) {
	title := fmt.Sprintf("Exit signal: %s %s", sig.Ticker, sig.Kind)
	message := formatExitSignal(sig)
	go func() {
		_ = a.notifier.Notify(context.WithoutCancel(ctx), "exit_signal", title, message)
	}()
}

func formatExitSignal(sig domain.ExitSignal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Position: %s\n", sig.PositionID)
	fmt.Fprintf(&b, "Reason: %s\n", sig.Reason)
	fmt.Fprintf(&b, "Exit price: %.2f\n", sig.ExitPrice)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", sig.Confidence*100)
	fmt.Fprintf(&b, "Urgency: %s", sig.Urgency)
	if sig.Message != "" {
		fmt.Fprintf(&b, "\n%s", sig.Message)
	}
	return b.String()
}
