// Package paper simulates a venue: immediate fills at the last traded price, a cash account, and fill records.
package paper

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"optionbot-go/internal/execution"
)

var (
	errQty         = errors.New("quantity must be positive")
	errPrice       = errors.New("price must be positive")
	errCash        = errors.New("insufficient cash for buy")
	errLimit       = errors.New("position limit exceeded")
	errShort       = errors.New("insufficient position to sell")
	errUnknownSide = errors.New("unknown order side")
)

// FillRecorder captures paper fills for later inspection.
type FillRecorder interface {
	Record(execution.Fill)
}

type positionState struct {
	Qty     int
	AvgCost decimal.Decimal
}

// Account tracks virtual cash, realized PnL, and per-instrument option positions.
type Account struct {
	mu             sync.Mutex
	startingCash   decimal.Decimal
	cash           decimal.Decimal
	realizedPnL    decimal.Decimal
	maxQtyPerInstr int
	positions      map[string]positionState
}

// PositionSnapshot exposes a read-only view of a single position.
type PositionSnapshot struct {
	Qty         int
	AvgCost     float64
	MarketValue float64
	Unrealized  float64
}

// Snapshot is a copy of the account, marked to market with the supplied prices.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Equity      float64
	Positions   map[string]PositionSnapshot
}

// NewAccount starts with the given cash. maxQtyPerInstr <= 0 disables the position cap.
func NewAccount(startingCash float64, maxQtyPerInstr int) *Account {
	cash := decimal.NewFromFloat(startingCash)
	return &Account{
		startingCash:   cash,
		cash:           cash,
		maxQtyPerInstr: maxQtyPerInstr,
		positions:      make(map[string]positionState),
	}
}

// StartingCash returns the initial bankroll.
func (a *Account) StartingCash() float64 { return a.startingCash.InexactFloat64() }

// MarketFill applies a fill to balances.
func (a *Account) MarketFill(instrument string, side execution.Side, qty int, price float64) error {
	if qty <= 0 {
		return errQty
	}
	if price <= 0 {
		return errPrice
	}
	px := decimal.NewFromFloat(price)
	q := decimal.NewFromInt(int64(qty))
	notional := px.Mul(q)

	a.mu.Lock()
	defer a.mu.Unlock()
	state := a.positions[instrument]

	switch side {
	case execution.Buy:
		if notional.GreaterThan(a.cash) {
			return errCash
		}
		newQty := state.Qty + qty
		if a.maxQtyPerInstr > 0 && newQty > a.maxQtyPerInstr {
			return errLimit
		}
		cost := state.AvgCost.Mul(decimal.NewFromInt(int64(state.Qty))).Add(notional)
		a.cash = a.cash.Sub(notional)
		a.positions[instrument] = positionState{Qty: newQty, AvgCost: cost.Div(decimal.NewFromInt(int64(newQty)))}

	case execution.Sell:
		if state.Qty < qty {
			return errShort
		}
		a.realizedPnL = a.realizedPnL.Add(px.Sub(state.AvgCost).Mul(q))
		a.cash = a.cash.Add(notional)
		if state.Qty == qty {
			delete(a.positions, instrument)
		} else {
			a.positions[instrument] = positionState{Qty: state.Qty - qty, AvgCost: state.AvgCost}
		}

	default:
		return errUnknownSide
	}
	return nil
}

// Snapshot returns balances, marking open positions with prices where available.
func (a *Account) Snapshot(prices map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.cash
	for instr, pos := range a.positions {
		snap := PositionSnapshot{Qty: pos.Qty, AvgCost: pos.AvgCost.InexactFloat64()}
		if mark, ok := prices[instr]; ok && mark > 0 {
			m := decimal.NewFromFloat(mark)
			q := decimal.NewFromInt(int64(pos.Qty))
			mv := m.Mul(q)
			snap.MarketValue = mv.InexactFloat64()
			snap.Unrealized = m.Sub(pos.AvgCost).Mul(q).InexactFloat64()
			equity = equity.Add(mv)
		}
		positions[instr] = snap
	}
	return Snapshot{
		Cash:        a.cash.InexactFloat64(),
		RealizedPnL: a.realizedPnL.InexactFloat64(),
		Equity:      equity.InexactFloat64(),
		Positions:   positions,
	}
}

// AvailableCash reports free cash that can be deployed.
func (a *Account) AvailableCash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash.InexactFloat64()
}

// Position returns the open quantity for the instrument.
func (a *Account) Position(instrument string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[instrument].Qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL.InexactFloat64()
}
