// Package execution routes option orders to a venue and reports fills.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"optionbot-go/internal/metrics"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy opens a long option position.
	Buy Side = "BUY"
	// Sell closes it.
	Sell Side = "SELL"
)

var (
	// ErrInvalidOrder reports an order that cannot be sent.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrRejected reports a venue-side refusal.
	ErrRejected = errors.New("order rejected")
	// ErrNoVenue reports an executor without a venue.
	ErrNoVenue = errors.New("no venue configured")
)

// Order represents a placement request the executor can process.
type Order struct {
	ClientID   string
	Segment    string
	SecurityID string
	Symbol     string
	Side       Side
	Qty        int
	Price      float64 // 0 for market
}

// Fill is a venue's confirmation of an executed order.
type Fill struct {
	OrderNo    string    `json:"order_no"`
	ClientID   string    `json:"client_id,omitempty"`
	Segment    string    `json:"segment"`
	SecurityID string    `json:"security_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        int       `json:"qty"`
	Price      float64   `json:"price"`
	Ts         time.Time `json:"ts"`
}

// Venue executes orders. Implementations must be safe for concurrent use.
type Venue interface {
	Place(ctx context.Context, order Order) (Fill, error)
}

// Executor validates orders, counts them, and hands them to a venue.
type Executor struct {
	venue Venue
	log   zerolog.Logger
}

// NewExecutor wires a venue and logger.
func NewExecutor(venue Venue, log zerolog.Logger) *Executor {
	return &Executor{venue: venue, log: log}
}

func (o Order) validate() error {
	switch {
	case strings.TrimSpace(o.SecurityID) == "":
		return fmt.Errorf("%w: missing security id", ErrInvalidOrder)
	case o.Qty <= 0:
		return fmt.Errorf("%w: quantity %d", ErrInvalidOrder, o.Qty)
	case o.Side != Buy && o.Side != Sell:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	case o.Price < 0:
		return fmt.Errorf("%w: price %.2f", ErrInvalidOrder, o.Price)
	}
	return nil
}

// Submit sends the order and returns the venue's fill.
func (e *Executor) Submit(ctx context.Context, order Order) (Fill, error) {
	if err := order.validate(); err != nil {
		return Fill{}, err
	}
	if e.venue == nil {
		return Fill{}, ErrNoVenue
	}
	metrics.OrdersTotal.WithLabelValues(order.Segment, string(order.Side)).Inc()
	fill, err := e.venue.Place(ctx, order)
	if err != nil {
		e.log.Warn().Err(err).Str("sym", order.Symbol).Str("side", string(order.Side)).Int("qty", order.Qty).Msg("order failed")
		return Fill{}, fmt.Errorf("submit %s %s: %w", order.Side, order.Symbol, err)
	}
	e.log.Info().Str("order_no", fill.OrderNo).Str("sym", order.Symbol).Str("side", string(order.Side)).Int("qty", fill.Qty).Float64("px", fill.Price).Msg("order filled")
	return fill, nil
}
