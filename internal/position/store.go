package position

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"optionbot-go/internal/signal"
)

// Store is the persistence surface the state machine needs.
type Store interface {
	Create(ctx context.Context, p *Position) error
	Find(ctx context.Context, id string) (Position, error)
	UpdateStatus(ctx context.Context, id string, c Change) error
	Save(ctx context.Context, p Position) error
}

// Observer is told about every committed transition.
type Observer interface {
	Observe(p Position, c Change)
}

// Memory is an in-process Store. Its write path enforces the lifecycle table itself,
// so an illegal status never lands regardless of which method wrote it.
type Memory struct {
	mu        sync.RWMutex
	positions map[string]*Position
	order     []string
	observers []Observer
	now       func() time.Time
}

// NewMemory builds an empty store.
func NewMemory(observers ...Observer) *Memory {
	return &Memory{
		positions: make(map[string]*Position),
		observers: observers,
		now:       time.Now,
	}
}

// Create inserts a new pending position, assigning an id when missing.
func (m *Memory) Create(_ context.Context, p *Position) error {
	if p == nil {
		return errors.New("nil position")
	}
	if p.Status == "" {
		p.Status = Pending
	}
	if p.Status != Pending {
		return &InvalidTransitionError{From: "", To: p.Status}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := m.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	if p.Meta == nil {
		p.Meta = map[string]any{}
	}

	m.mu.Lock()
	if _, dup := m.positions[p.ID]; dup {
		m.mu.Unlock()
		return errors.New("duplicate position id " + p.ID)
	}
	stored := p.Clone()
	m.positions[p.ID] = &stored
	m.order = append(m.order, p.ID)
	m.mu.Unlock()
	return nil
}

// Find returns a copy of the stored position.
func (m *Memory) Find(_ context.Context, id string) (Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return Position{}, ErrNotFound
	}
	return p.Clone(), nil
}

// UpdateStatus applies c only if the stored status still equals c.From.
func (m *Memory) UpdateStatus(_ context.Context, id string, c Change) error {
	if err := ValidateTransition(c.From, c.To); err != nil {
		return err
	}
	if c.At.IsZero() {
		c.At = m.now()
	}

	m.mu.Lock()
	p, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if p.Status != c.From {
		m.mu.Unlock()
		return ErrConflict
	}
	c.Apply(p)
	snapshot := p.Clone()
	m.mu.Unlock()

	m.notify(snapshot, c)
	return nil
}

// Save writes a whole position back. A changed status is validated against the
// stored one exactly like UpdateStatus.
func (m *Memory) Save(_ context.Context, p Position) error {
	m.mu.Lock()
	cur, ok := m.positions[p.ID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	var change *Change
	if p.Status != cur.Status {
		if err := ValidateTransition(cur.Status, p.Status); err != nil {
			m.mu.Unlock()
			return err
		}
		c := Change{From: cur.Status, To: p.Status, At: m.now(), Note: "save"}
		change = &c
		stored := p.Clone()
		c.Apply(&stored)
		*cur = stored
	} else {
		stored := p.Clone()
		stored.UpdatedAt = m.now()
		*cur = stored
	}
	snapshot := cur.Clone()
	m.mu.Unlock()

	if change != nil {
		m.notify(snapshot, *change)
	}
	return nil
}

func (m *Memory) notify(p Position, c Change) {
	for _, o := range m.observers {
		o.Observe(p, c)
	}
}

// List returns positions in creation order, optionally filtered by status.
func (m *Memory) List(statuses ...Status) []Position {
	want := make(map[Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.order))
	for _, id := range m.order {
		p := m.positions[id]
		if len(want) > 0 {
			if _, ok := want[p.Status]; !ok {
				continue
			}
		}
		out = append(out, p.Clone())
	}
	return out
}

// CountEntriesSince counts positions opened on an index since the given time,
// excluding those cancelled before they ever became active.
func (m *Memory) CountEntriesSince(indexKey string, since time.Time) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.positions {
		if !strings.EqualFold(p.IndexKey, indexKey) || p.CreatedAt.Before(since) {
			continue
		}
		if p.Status == Cancelled && p.ActivatedAt.IsZero() {
			continue
		}
		n++
	}
	return n
}

// CountActive counts open positions in a direction on an instrument. Option positions
// whose index is the instrument count as its derivative children. Pending positions
// count too since their exposure is already committed.
func (m *Memory) CountActive(instrumentKey string, dir signal.Direction) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.positions {
		if p.Status != Active && p.Status != Pending {
			continue
		}
		if p.Direction != dir {
			continue
		}
		if strings.EqualFold(p.IndexKey, instrumentKey) || p.SecurityID == instrumentKey {
			n++
		}
	}
	return n
}

// LastEntryAt returns the most recent creation time of a position on the symbol.
func (m *Memory) LastEntryAt(symbol string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	for _, p := range m.positions {
		if p.Symbol != symbol && p.SecurityID != symbol {
			continue
		}
		if p.CreatedAt.After(last) {
			last = p.CreatedAt
		}
	}
	return last, !last.IsZero()
}

// Snapshot returns every position sorted by creation time, newest first.
func (m *Memory) Snapshot() []Position {
	out := m.List()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
