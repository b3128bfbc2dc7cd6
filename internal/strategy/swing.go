package strategy

import (
	"context"
	"fmt"
	"strings"

	"optionbot-go/internal/signal"
)

// SwingOptionBuying buys pullbacks inside the EMA band while the higher timeframe trends up.
type SwingOptionBuying struct {
	multiplier int
}

func NewSwingOptionBuying(multiplier int) *SwingOptionBuying {
	return &SwingOptionBuying{multiplier: multiplier}
}

func (s *SwingOptionBuying) Name() string { return "swing_option_buying" }

func (s *SwingOptionBuying) Evaluate(_ context.Context, in Input) (*signal.Signal, error) {
	opt, tk, ok, err := prepare(in)
	if err != nil || !ok {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(tk.HTFSupertrend), "up") {
		return nil, nil
	}
	if !strictlyBetween(tk.LTP, tk.EMA9, tk.EMA21) {
		return nil, nil
	}
	if tk.PrevHigh <= 0 || tk.LTP <= tk.PrevHigh {
		return nil, nil
	}
	reason := fmt.Sprintf("swing: supertrend up, ltp %.2f inside ema band %.2f/%.2f above previous high %.2f",
		tk.LTP, tk.EMA9, tk.EMA21, tk.PrevHigh)
	return BuildSignal(in, opt, s.Name(), s.multiplier, reason, map[string]any{
		"ema9":      tk.EMA9,
		"ema21":     tk.EMA21,
		"prev_high": tk.PrevHigh,
	}), nil
}

func strictlyBetween(v, a, b float64) bool {
	if a > b {
		a, b = b, a
	}
	return v > a && v < b
}
