package bias

import (
	"math"

	"optionbot-go/internal/candles"
)

// Trend is the market structure read from swing pivots.
type Trend string

const (
	Bullish Trend = "bullish"
	Bearish Trend = "bearish"
	Ranging Trend = "ranging"
)

// Zone locates the last close inside the dealing range.
type Zone string

const (
	Premium     Zone = "premium"
	Discount    Zone = "discount"
	Equilibrium Zone = "equilibrium"
)

// equalLevelTolerance is the relative distance under which two pivots count as equal.
const equalLevelTolerance = 0.001

const maxZones = 3

// Pivot is a fractal swing point.
type Pivot struct {
	Idx   int
	Price float64
	High  bool
}

// Swing is a leg between two alternating pivots.
type Swing struct {
	From, To Pivot
}

// Up reports whether the leg rises.
func (s Swing) Up() bool { return s.To.Price > s.From.Price }

// PriceZone is an order block or fair-value gap.
type PriceZone struct {
	Idx     int
	Top     float64
	Bottom  float64
	Bullish bool
}

// Touched reports whether a bar's range overlaps the zone.
func (z PriceZone) Touched(bar candles.Candle) bool {
	return bar.Low <= z.Top && bar.High >= z.Bottom
}

// Liquidity holds resting liquidity pools and whether the last bar swept one.
type Liquidity struct {
	EqualHighs []float64
	EqualLows  []float64
	SweptHigh  bool
	SweptLow   bool
}

// Options tune Analyze.
type Options struct {
	PivotLeft         int
	PivotRight        int
	Lookback          int
	PremiumThreshold  float64
	DiscountThreshold float64
}

// Analysis is the per-timeframe context the bias decision reads.
type Analysis struct {
	Interval    string
	Bars        []candles.Candle
	Pivots      []Pivot
	Swings      []Swing
	Trend       Trend
	CHoCH       bool
	RangeHigh   float64
	RangeLow    float64
	Position    float64 // 0 at range low, 1 at range high
	Zone        Zone
	Liquidity   Liquidity
	OrderBlocks []PriceZone
	FVGs        []PriceZone
}

// Last returns the most recent bar.
func (a Analysis) Last() (candles.Candle, bool) {
	if len(a.Bars) == 0 {
		return candles.Candle{}, false
	}
	return a.Bars[len(a.Bars)-1], true
}

// Analyze builds the structure, zone, liquidity, order-block and gap context of a series.
func Analyze(interval string, bars []candles.Candle, opts Options) Analysis {
	if opts.Lookback > 0 && len(bars) > opts.Lookback {
		bars = bars[len(bars)-opts.Lookback:]
	}
	a := Analysis{Interval: interval, Bars: bars, Trend: Ranging, Zone: Equilibrium}
	if len(bars) == 0 {
		return a
	}

	a.Pivots = coalesce(fractalPivots(bars, opts.PivotLeft, opts.PivotRight))
	a.Swings = buildSwings(a.Pivots)
	a.Trend, a.CHoCH = structure(a.Pivots, bars[len(bars)-1].Close)

	a.RangeHigh, a.RangeLow = bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		a.RangeHigh = math.Max(a.RangeHigh, b.High)
		a.RangeLow = math.Min(a.RangeLow, b.Low)
	}
	if span := a.RangeHigh - a.RangeLow; span > 0 {
		a.Position = (bars[len(bars)-1].Close - a.RangeLow) / span
		switch {
		case a.Position >= opts.PremiumThreshold:
			a.Zone = Premium
		case a.Position <= opts.DiscountThreshold:
			a.Zone = Discount
		}
	}

	a.Liquidity = liquidity(a.Pivots, bars[len(bars)-1])
	a.OrderBlocks = orderBlocks(bars)
	a.FVGs = fairValueGaps(bars)
	return a
}

// fractalPivots marks bar i as a high when no bar in [i-left, i+right] trades above it, and
// as a low when none trades below it.
func fractalPivots(bars []candles.Candle, left, right int) []Pivot {
	if len(bars) < left+right+1 {
		return nil
	}
	var out []Pivot
	for i := left; i < len(bars)-right; i++ {
		hi, lo := true, true
		for j := i - left; j <= i+right; j++ {
			if bars[j].High > bars[i].High {
				hi = false
			}
			if bars[j].Low < bars[i].Low {
				lo = false
			}
			if !hi && !lo {
				break
			}
		}
		if hi {
			out = append(out, Pivot{Idx: i, Price: bars[i].High, High: true})
		} else if lo {
			out = append(out, Pivot{Idx: i, Price: bars[i].Low})
		}
	}
	return out
}

// coalesce keeps the more extreme of consecutive same-type pivots so highs and lows alternate.
func coalesce(pivots []Pivot) []Pivot {
	out := make([]Pivot, 0, len(pivots))
	for _, p := range pivots {
		n := len(out)
		if n > 0 && out[n-1].High == p.High {
			if (p.High && p.Price > out[n-1].Price) || (!p.High && p.Price < out[n-1].Price) {
				out[n-1] = p
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

func buildSwings(pivots []Pivot) []Swing {
	if len(pivots) < 2 {
		return nil
	}
	out := make([]Swing, 0, len(pivots)-1)
	for i := 1; i < len(pivots); i++ {
		out = append(out, Swing{From: pivots[i-1], To: pivots[i]})
	}
	return out
}

// structure reads higher-highs/higher-lows (bullish) or lower-highs/lower-lows (bearish) from the
// last two pivots of each kind. A close through the last opposing pivot flips the trend and marks
// a change of character.
func structure(pivots []Pivot, lastClose float64) (Trend, bool) {
	var highs, lows []Pivot
	for _, p := range pivots {
		if p.High {
			highs = append(highs, p)
		} else {
			lows = append(lows, p)
		}
	}
	trend := Ranging
	if len(highs) >= 2 && len(lows) >= 2 {
		h0, h1 := highs[len(highs)-2].Price, highs[len(highs)-1].Price
		l0, l1 := lows[len(lows)-2].Price, lows[len(lows)-1].Price
		switch {
		case h1 > h0 && l1 > l0:
			trend = Bullish
		case h1 < h0 && l1 < l0:
			trend = Bearish
		}
	}
	switch {
	case trend == Bearish && lastClose > highs[len(highs)-1].Price:
		return Bullish, true
	case trend == Bullish && lastClose < lows[len(lows)-1].Price:
		return Bearish, true
	}
	return trend, false
}

func liquidity(pivots []Pivot, last candles.Candle) Liquidity {
	var liq Liquidity
	for i := 0; i < len(pivots); i++ {
		for j := i + 1; j < len(pivots); j++ {
			a, b := pivots[i], pivots[j]
			if a.High != b.High || !equalLevels(a.Price, b.Price) {
				continue
			}
			level := (a.Price + b.Price) / 2
			if a.High {
				liq.EqualHighs = append(liq.EqualHighs, level)
				if last.High > math.Max(a.Price, b.Price) && last.Close < level {
					liq.SweptHigh = true
				}
			} else {
				liq.EqualLows = append(liq.EqualLows, level)
				if last.Low < math.Min(a.Price, b.Price) && last.Close > level {
					liq.SweptLow = true
				}
			}
		}
	}
	return liq
}

func equalLevels(a, b float64) bool {
	ref := math.Max(math.Abs(a), math.Abs(b))
	return ref > 0 && math.Abs(a-b)/ref <= equalLevelTolerance
}

// orderBlocks finds the last opposite candle before a candle that closes through it.
func orderBlocks(bars []candles.Candle) []PriceZone {
	var out []PriceZone
	for i := 0; i+1 < len(bars); i++ {
		cur, next := bars[i], bars[i+1]
		switch {
		case cur.Close < cur.Open && next.Close > next.Open && next.Close > cur.High:
			out = append(out, PriceZone{Idx: i, Top: cur.High, Bottom: cur.Low, Bullish: true})
		case cur.Close > cur.Open && next.Close < next.Open && next.Close < cur.Low:
			out = append(out, PriceZone{Idx: i, Top: cur.High, Bottom: cur.Low})
		}
	}
	return tail(out)
}

// fairValueGaps finds three-bar imbalances where the outer wicks do not overlap.
func fairValueGaps(bars []candles.Candle) []PriceZone {
	var out []PriceZone
	for i := 2; i < len(bars); i++ {
		first, third := bars[i-2], bars[i]
		switch {
		case first.High < third.Low:
			out = append(out, PriceZone{Idx: i - 1, Top: third.Low, Bottom: first.High, Bullish: true})
		case first.Low > third.High:
			out = append(out, PriceZone{Idx: i - 1, Top: first.Low, Bottom: third.High})
		}
	}
	return tail(out)
}

func tail(zs []PriceZone) []PriceZone {
	if len(zs) > maxZones {
		return zs[len(zs)-maxZones:]
	}
	return zs
}
