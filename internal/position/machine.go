package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"optionbot-go/internal/metrics"
)

const defaultMaxAttempts = 3

// Machine drives positions through the lifecycle table with guarded writes.
type Machine struct {
	store       Store
	log         zerolog.Logger
	maxAttempts int
	now         func() time.Time
}

// NewMachine wraps a store.
func NewMachine(store Store, log zerolog.Logger) *Machine {
	return &Machine{store: store, log: log, maxAttempts: defaultMaxAttempts, now: time.Now}
}

// Open creates a pending position.
func (m *Machine) Open(ctx context.Context, p *Position) error {
	p.Status = Pending
	if err := m.store.Create(ctx, p); err != nil {
		return fmt.Errorf("create position: %w", err)
	}
	metrics.PositionTransitions.WithLabelValues("", string(Pending)).Inc()
	m.log.Info().Str("id", p.ID).Str("symbol", p.Symbol).Str("index", p.IndexKey).Msg("position opened")
	return nil
}

// Activate marks a filled pending position active at the fill price.
func (m *Machine) Activate(ctx context.Context, id string, entryPrice float64, orderNo string) (Position, error) {
	return m.transition(ctx, id, Active, Change{EntryPrice: entryPrice, OrderNo: orderNo, Note: "activate"})
}

// Exit closes an active position at exitPrice.
func (m *Machine) Exit(ctx context.Context, id string, exitPrice float64, reason string) (Position, error) {
	return m.transition(ctx, id, Exited, Change{
		ExitPrice: exitPrice,
		Meta:      map[string]any{"exit_reason": reason},
		Note:      "exit",
	})
}

// Cancel abandons a pending or active position and records why.
func (m *Machine) Cancel(ctx context.Context, id string, reason string) (Position, error) {
	return m.transition(ctx, id, Cancelled, Change{
		Meta: map[string]any{"cancellation_reason": reason},
		Note: "cancel",
	})
}

// transition re-reads the current status, validates the edge, and writes it guarded by
// the status it read. A conflicting concurrent write causes a re-read; if the edge is no
// longer legal the caller gets the invalid-transition error.
func (m *Machine) transition(ctx context.Context, id string, to Status, c Change) (Position, error) {
	for attempt := 1; ; attempt++ {
		cur, err := m.store.Find(ctx, id)
		if err != nil {
			return Position{}, err
		}
		if err := ValidateTransition(cur.Status, to); err != nil {
			metrics.InvalidTransitions.WithLabelValues(string(cur.Status), string(to)).Inc()
			return cur, err
		}
		c.From, c.To, c.At = cur.Status, to, m.now()
		err = m.store.UpdateStatus(ctx, id, c)
		if err == nil {
			metrics.PositionTransitions.WithLabelValues(string(c.From), string(to)).Inc()
			m.log.Info().Str("id", id).Str("from", string(c.From)).Str("to", string(to)).Msg("position transition")
			return m.store.Find(ctx, id)
		}
		if !errors.Is(err, ErrConflict) || attempt >= m.maxAttempts {
			return cur, err
		}
		m.log.Debug().Str("id", id).Int("attempt", attempt).Msg("status conflict, retrying")
	}
}
