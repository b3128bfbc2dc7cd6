package bias

import (
	"fmt"

	"optionbot-go/internal/signal"
)

// RejectionDetector confirms that the lower timeframe rejected price in the bias direction.
type RejectionDetector interface {
	Confirm(dir signal.Direction) (bool, string)
}

// DetectorFactory builds a detector over a lower-timeframe analysis.
type DetectorFactory func(ltf Analysis) RejectionDetector

// minWickShare is the fraction of the bar range the rejecting wick must cover.
const minWickShare = 0.5

// WickRejection confirms when the last bar wicks into a same-side order block, fair-value
// gap or swept liquidity pool and closes away from it.
type WickRejection struct {
	ltf Analysis
}

// NewWickRejection is the default DetectorFactory.
func NewWickRejection(ltf Analysis) RejectionDetector {
	return WickRejection{ltf: ltf}
}

func (w WickRejection) Confirm(dir signal.Direction) (bool, string) {
	bar, ok := w.ltf.Last()
	if !ok {
		return false, "no lower timeframe bars"
	}
	span := bar.High - bar.Low
	if span <= 0 {
		return false, "flat bar"
	}
	bullish := dir == signal.Call
	var wick float64
	if bullish {
		wick = min(bar.Open, bar.Close) - bar.Low
	} else {
		wick = bar.High - max(bar.Open, bar.Close)
	}
	if wick/span < minWickShare {
		return false, fmt.Sprintf("wick %.0f%% of range below %.0f%%", wick/span*100, minWickShare*100)
	}

	if bullish && w.ltf.Liquidity.SweptLow {
		return true, "swept equal lows"
	}
	if !bullish && w.ltf.Liquidity.SweptHigh {
		return true, "swept equal highs"
	}
	for _, z := range w.ltf.OrderBlocks {
		if z.Bullish == bullish && z.Touched(bar) {
			return true, fmt.Sprintf("rejected order block %.2f-%.2f", z.Bottom, z.Top)
		}
	}
	for _, z := range w.ltf.FVGs {
		if z.Bullish == bullish && z.Touched(bar) {
			return true, fmt.Sprintf("rejected fair value gap %.2f-%.2f", z.Bottom, z.Top)
		}
	}
	return false, "wick did not reach a zone"
}
