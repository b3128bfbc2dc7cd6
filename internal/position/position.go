// Package position owns the lifecycle of a trade from order acceptance to exit.
package position

import (
	"errors"
	"fmt"
	"time"

	"optionbot-go/internal/signal"
)

// Status is the lifecycle state of a Position.
type Status string

const (
	Pending   Status = "pending"
	Active    Status = "active"
	Exited    Status = "exited"
	Cancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool { return s == Exited || s == Cancelled }

// Side is the order side that opened the position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

var (
	// ErrInvalidTransition matches every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConflict reports that the stored status changed between read and write.
	ErrConflict = errors.New("status conflict")
	// ErrNotFound reports an unknown position id.
	ErrNotFound = errors.New("position not found")
)

// InvalidTransitionError names the rejected edge.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

var transitions = map[Status]map[Status]struct{}{
	Pending: {Active: {}, Cancelled: {}},
	Active:  {Exited: {}, Cancelled: {}},
}

// ValidateTransition returns nil only for an edge of the lifecycle table.
// Same-status writes and anything leaving a terminal state are rejected.
func ValidateTransition(from, to Status) error {
	if _, ok := transitions[from][to]; ok {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}

// Position is a tracked option trade.
type Position struct {
	ID          string           `json:"id"`
	Status      Status           `json:"status"`
	Side        Side             `json:"side"`
	Direction   signal.Direction `json:"direction"`
	IndexKey    string           `json:"index_key"`
	Symbol      string           `json:"symbol"`
	SecurityID  string           `json:"security_id"`
	Segment     string           `json:"segment"`
	Strategy    string           `json:"strategy"`
	EntryPrice  float64          `json:"entry_price"`
	ExitPrice   float64          `json:"exit_price"`
	Quantity    int              `json:"quantity"`
	OrderNo     string           `json:"order_no"`
	Meta        map[string]any   `json:"meta"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ActivatedAt time.Time        `json:"activated_at,omitempty"`
	ClosedAt    time.Time        `json:"closed_at,omitempty"`
}

// Clone returns a deep-enough copy for handing out of a store.
func (p Position) Clone() Position {
	out := p
	if p.Meta != nil {
		out.Meta = make(map[string]any, len(p.Meta))
		for k, v := range p.Meta {
			if h, ok := v.([]HistoryEntry); ok {
				v = append([]HistoryEntry(nil), h...)
			}
			out.Meta[k] = v
		}
	}
	return out
}

// History returns the recorded transitions of the position.
func (p Position) History() []HistoryEntry {
	h, _ := p.Meta["history"].([]HistoryEntry)
	return h
}

// HistoryEntry is one recorded transition.
type HistoryEntry struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Change describes one guarded status write.
type Change struct {
	From       Status
	To         Status
	Meta       map[string]any
	EntryPrice float64
	ExitPrice  float64
	OrderNo    string
	Note       string
	At         time.Time
}

// Apply mutates p with the change. Callers validate first.
func (c Change) Apply(p *Position) {
	if p.Meta == nil {
		p.Meta = map[string]any{}
	}
	for k, v := range c.Meta {
		p.Meta[k] = v
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	p.Meta["history"] = append(p.History(), HistoryEntry{From: c.From, To: c.To, At: at, Note: c.Note})
	p.Status = c.To
	p.UpdatedAt = at
	if c.EntryPrice > 0 {
		p.EntryPrice = c.EntryPrice
	}
	if c.ExitPrice > 0 {
		p.ExitPrice = c.ExitPrice
	}
	if c.OrderNo != "" {
		p.OrderNo = c.OrderNo
	}
	switch c.To {
	case Active:
		p.ActivatedAt = at
	case Exited, Cancelled:
		p.ClosedAt = at
	}
}
