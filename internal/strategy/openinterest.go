package strategy

import (
	"context"
	"fmt"

	"optionbot-go/internal/signal"
)

// OpenInterestBuying buys when open interest builds while price holds above the previous close.
// The last seen OI per index is memoized in the StateStore and refreshed on every call.
type OpenInterestBuying struct {
	multiplier int
}

func NewOpenInterestBuying(multiplier int) *OpenInterestBuying {
	return &OpenInterestBuying{multiplier: multiplier}
}

func (o *OpenInterestBuying) Name() string { return "open_interest_buying" }

func (o *OpenInterestBuying) Evaluate(_ context.Context, in Input) (*signal.Signal, error) {
	if in.State == nil {
		return nil, fmt.Errorf("%w: %s needs a state store", ErrMisconfigured, o.Name())
	}
	opt, tk, ok, err := prepare(in)
	if err != nil || !ok {
		return nil, err
	}

	prev, seen := in.State.Swap(StateKey(in.Index.Key, o.Name()), tk.OI)
	if !seen {
		prev = tk.OI
	}
	change := tk.OI - prev
	if change <= 0 || tk.PrevClose <= 0 || tk.LTP <= tk.PrevClose {
		return nil, nil
	}
	priceChange := pct(tk.LTP-tk.PrevClose, tk.PrevClose)
	reason := fmt.Sprintf("open interest +%.0f with price %.2f%% over previous close", change, priceChange)
	return BuildSignal(in, opt, o.Name(), o.multiplier, reason, map[string]any{
		"oi_change":        change,
		"price_change_pct": priceChange,
	}), nil
}
