// Package risk computes the drawdown and stop-loss curves applied to live positions.
package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"optionbot-go/internal/config"
)

// Schedule evaluates the drawdown curves for one configuration snapshot.
type Schedule struct {
	cfg config.Risk
}

// NewSchedule binds a schedule to a risk configuration with defaults already applied.
func NewSchedule(cfg config.Risk) Schedule { return Schedule{cfg: cfg} }

// AllowedUpwardDrawdownPct returns how far profit may retrace, in percentage points, before exiting.
// The tolerance starts at DDStartPct at ProfitMin and decays exponentially towards DDEndPct at ProfitMax,
// never dropping below the index floor. ok is false while profit is below ProfitMin.
func (s Schedule) AllowedUpwardDrawdownPct(profitPct float64, indexKey string) (float64, bool) {
	d := s.cfg.Drawdown
	if profitPct < d.ProfitMin {
		return 0, false
	}
	span := d.ProfitMax - d.ProfitMin
	normalized := 1.0
	if span > 0 {
		normalized = clamp((profitPct-d.ProfitMin)/span, 0, 1)
	}
	raw := d.DDEndPct + (d.DDStartPct-d.DDEndPct)*decay(d.ExponentialK, normalized)
	return round4(math.Max(raw, d.FloorFor(indexKey))), true
}

// decay is e^(-k*n) rescaled so that it is exactly 1 at n=0 and 0 at n=1.
func decay(k, n float64) float64 {
	if k <= 0 {
		return 1 - n
	}
	tail := math.Exp(-k)
	return (math.Exp(-k*n) - tail) / (1 - tail)
}

// ReverseDynamicSLPct returns the stop distance below entry, in percent, for a position trading at a loss.
// The stop loosens linearly from MaxLossPct towards MinLossPct as the loss grows to LossSpanPct, then
// tightens with time spent below entry and with compressed volatility. ok is false for pnl >= 0 or
// when the feature is disabled.
func (s Schedule) ReverseDynamicSLPct(pnlPct, secondsBelowEntry, atrRatio float64) (float64, bool) {
	rl := s.cfg.ReverseLoss
	if pnlPct >= 0 || !rl.IsEnabled() || rl.LossSpanPct <= 0 {
		return 0, false
	}

	lossPct := math.Min(-pnlPct, rl.LossSpanPct)
	ratio := lossPct / rl.LossSpanPct
	sl := rl.MaxLossPct + ratio*(rl.MinLossPct-rl.MaxLossPct)

	if secondsBelowEntry > 0 {
		sl -= (secondsBelowEntry / 60.0) * rl.TimeTightenPerMin
	}
	for _, p := range rl.ATRPenaltyThresholds {
		if atrRatio <= p.Threshold {
			sl -= p.PenaltyPct
			break
		}
	}
	return round4(clamp(sl, rl.MinLossPct, rl.MaxLossPct)), true
}

// SLPriceFromEntry converts a loss percentage into a stop price. The sign of lossPct is ignored.
func SLPriceFromEntry(entryPrice, lossPct float64) float64 {
	return entryPrice * (1 - math.Abs(lossPct)/100)
}

// PnLPct is the percentage move from entry to ltp for a long option position.
func PnLPct(entryPrice, ltp float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	return (ltp - entryPrice) / entryPrice * 100
}

func round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
