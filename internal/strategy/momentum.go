package strategy

import (
	"context"
	"fmt"

	"optionbot-go/internal/signal"
)

// MomentumBuying buys breakouts strictly above the day's high.
type MomentumBuying struct {
	minRSI     float64
	multiplier int
}

// NewMomentumBuying builds the strategy. minRSI <= 0 disables the RSI filter.
func NewMomentumBuying(minRSI float64, multiplier int) *MomentumBuying {
	return &MomentumBuying{minRSI: minRSI, multiplier: multiplier}
}

func (m *MomentumBuying) Name() string { return "momentum_buying" }

func (m *MomentumBuying) Evaluate(_ context.Context, in Input) (*signal.Signal, error) {
	opt, tk, ok, err := prepare(in)
	if err != nil || !ok {
		return nil, err
	}
	if tk.DayHigh <= 0 || tk.LTP <= tk.DayHigh {
		return nil, nil
	}
	if m.minRSI > 0 && tk.RSI <= m.minRSI {
		return nil, nil
	}
	extra := map[string]any{"breakout_pct": pct(tk.LTP-tk.DayHigh, tk.DayHigh)}
	reason := fmt.Sprintf("momentum: ltp %.2f broke day high %.2f", tk.LTP, tk.DayHigh)
	if m.minRSI > 0 {
		extra["rsi"] = tk.RSI
		reason += fmt.Sprintf(" with rsi %.1f", tk.RSI)
	}
	return BuildSignal(in, opt, m.Name(), m.multiplier, reason, extra), nil
}
