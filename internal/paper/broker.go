package paper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"optionbot-go/internal/execution"
	"optionbot-go/internal/signal"
)

// ErrNoQuote reports an instrument without a usable last traded price.
var ErrNoQuote = errors.New("no quote")

// TickSource reads the latest tick of an instrument.
type TickSource interface {
	Get(segment, securityID string) (signal.Tick, bool)
}

// Broker is an execution.Venue that fills market orders at the current LTP.
type Broker struct {
	ticks     TickSource
	account   *Account
	recorders []FillRecorder
	now       func() time.Time
}

// NewBroker fills against ticks, books into account, and records every fill.
func NewBroker(ticks TickSource, account *Account, recorders ...FillRecorder) *Broker {
	return &Broker{ticks: ticks, account: account, recorders: recorders, now: time.Now}
}

// Account exposes the simulated balances.
func (b *Broker) Account() *Account { return b.account }

// Place implements execution.Venue.
func (b *Broker) Place(ctx context.Context, order execution.Order) (execution.Fill, error) {
	if err := ctx.Err(); err != nil {
		return execution.Fill{}, err
	}
	tk, ok := b.ticks.Get(order.Segment, order.SecurityID)
	if !ok || tk.LTP <= 0 {
		return execution.Fill{}, fmt.Errorf("%w: %s:%s", ErrNoQuote, order.Segment, order.SecurityID)
	}
	px := tk.LTP
	if order.Price > 0 {
		if (order.Side == execution.Buy && order.Price < px) || (order.Side == execution.Sell && order.Price > px) {
			return execution.Fill{}, fmt.Errorf("%w: limit %.2f not marketable at %.2f", execution.ErrRejected, order.Price, px)
		}
	}
	if err := b.account.MarketFill(order.SecurityID, order.Side, order.Qty, px); err != nil {
		return execution.Fill{}, fmt.Errorf("%w: %v", execution.ErrRejected, err)
	}
	fill := execution.Fill{
		OrderNo:    uuid.NewString(),
		ClientID:   order.ClientID,
		Segment:    order.Segment,
		SecurityID: order.SecurityID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Qty:        order.Qty,
		Price:      px,
		Ts:         b.now(),
	}
	for _, r := range b.recorders {
		r.Record(fill)
	}
	return fill, nil
}
