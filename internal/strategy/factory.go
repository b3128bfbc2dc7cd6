package strategy

import (
	"fmt"
	"strings"

	"optionbot-go/internal/config"
)

// Build returns the strategy registered under the configured name.
func Build(cfg config.Strategy) (Strategy, error) {
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "btst", "btst_momentum":
		b, err := NewBtstMomentum(cfg.Params.WindowStart, cfg.Params.WindowEnd, mult)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "momentum", "momentum_buying":
		return NewMomentumBuying(cfg.Params.MinRSI, mult), nil
	case "oi", "open_interest", "open_interest_buying":
		return NewOpenInterestBuying(mult), nil
	case "swing", "swing_option_buying":
		return NewSwingOptionBuying(mult), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrMisconfigured, cfg.Name)
	}
}

// BuildAll builds every enabled strategy, failing on the first misconfiguration.
func BuildAll(cfgs []config.Strategy) ([]Strategy, error) {
	out := make([]Strategy, 0, len(cfgs))
	for _, c := range cfgs {
		if !c.IsEnabled() {
			continue
		}
		s, err := Build(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
