package strategy

import (
	"context"
	"fmt"

	"optionbot-go/internal/config"
	"optionbot-go/internal/signal"
)

const (
	defaultBtstStart = "15:10"
	defaultBtstEnd   = "15:20"
)

// BtstMomentum buys into late-session strength for an overnight hold.
type BtstMomentum struct {
	start, end int
	multiplier int
}

// NewBtstMomentum builds the strategy; an empty window falls back to 15:10-15:20 local.
func NewBtstMomentum(windowStart, windowEnd string, multiplier int) (*BtstMomentum, error) {
	if windowStart == "" {
		windowStart = defaultBtstStart
	}
	if windowEnd == "" {
		windowEnd = defaultBtstEnd
	}
	start, err := config.ParseClock(windowStart)
	if err != nil {
		return nil, fmt.Errorf("%w: btst window: %v", ErrMisconfigured, err)
	}
	end, err := config.ParseClock(windowEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: btst window: %v", ErrMisconfigured, err)
	}
	if end < start {
		return nil, fmt.Errorf("%w: btst window %s ends before %s", ErrMisconfigured, windowEnd, windowStart)
	}
	return &BtstMomentum{start: start, end: end, multiplier: multiplier}, nil
}

func (b *BtstMomentum) Name() string { return "btst_momentum" }

// Evaluate fires inside the window when ltp > vwap and volume > avg_volume.
func (b *BtstMomentum) Evaluate(_ context.Context, in Input) (*signal.Signal, error) {
	now := in.local()
	minute := now.Hour()*60 + now.Minute()
	if minute < b.start || minute > b.end {
		return nil, nil
	}
	opt, tk, ok, err := prepare(in)
	if err != nil || !ok {
		return nil, err
	}
	if tk.VWAP <= 0 || tk.AvgVolume <= 0 {
		return nil, nil
	}
	if tk.LTP <= tk.VWAP || tk.Volume <= tk.AvgVolume {
		return nil, nil
	}
	premium := pct(tk.LTP-tk.VWAP, tk.VWAP)
	volRatio := ratio(tk.Volume, tk.AvgVolume)
	reason := fmt.Sprintf("btst: ltp %.2f above vwap by %.2f%%, volume %.2fx average", tk.LTP, premium, volRatio)
	return BuildSignal(in, opt, b.Name(), b.multiplier, reason, map[string]any{
		"vwap_premium_pct": premium,
		"volume_ratio":     volRatio,
	}), nil
}
