package paper

import (
	"sync"

	"github.com/shopspring/decimal"

	"optionbot-go/internal/execution"
)

// RoundTrip pairs the buy and sell fills of one position.
type RoundTrip struct {
	PositionID string
	SecurityID string
	Qty        int
	Entry      float64
	Exit       float64
	PnL        float64
	Closed     bool
}

// Ledger keeps every paper fill in arrival order and books them into round trips
// keyed by the order's client id, which the scanner sets to the position id.
type Ledger struct {
	mu    sync.Mutex
	fills []execution.Fill
	trips map[string]*RoundTrip
	order []string
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{trips: make(map[string]*RoundTrip)}
}

// Record implements FillRecorder.
func (l *Ledger) Record(fill execution.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fills = append(l.fills, fill)
	if fill.ClientID == "" {
		return
	}
	rt := l.trips[fill.ClientID]
	if rt == nil {
		rt = &RoundTrip{PositionID: fill.ClientID, SecurityID: fill.SecurityID}
		l.trips[fill.ClientID] = rt
		l.order = append(l.order, fill.ClientID)
	}
	switch fill.Side {
	case execution.Buy:
		rt.Qty = fill.Qty
		rt.Entry = fill.Price
	case execution.Sell:
		rt.Exit = fill.Price
		rt.Closed = true
		rt.PnL = decimal.NewFromFloat(fill.Price).
			Sub(decimal.NewFromFloat(rt.Entry)).
			Mul(decimal.NewFromInt(int64(fill.Qty))).
			Round(2).InexactFloat64()
	}
}

// Fills returns a copy of the recorded fills.
func (l *Ledger) Fills() []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// RoundTrips returns one entry per position in first-fill order.
func (l *Ledger) RoundTrips() []RoundTrip {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RoundTrip, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.trips[id])
	}
	return out
}

// ClosedPnL sums the P&L of every closed round trip.
func (l *Ledger) ClosedPnL() float64 {
	total := decimal.Zero
	for _, rt := range l.RoundTrips() {
		if rt.Closed {
			total = total.Add(decimal.NewFromFloat(rt.PnL))
		}
	}
	return total.InexactFloat64()
}
