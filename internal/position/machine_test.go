package position

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionbot-go/internal/signal"
)

func newMachine(t *testing.T) (*Machine, *Memory) {
	t.Helper()
	store := NewMemory()
	return NewMachine(store, zerolog.Nop()), store
}

// positionIn returns the id of a position driven into the requested status.
func positionIn(t *testing.T, m *Machine, s Status) string {
	t.Helper()
	ctx := context.Background()
	p := &Position{Symbol: "NIFTY-22500-CE", SecurityID: "45001", IndexKey: "NIFTY", Direction: signal.Call, Side: Buy, Quantity: 75}
	require.NoError(t, m.Open(ctx, p))
	switch s {
	case Pending:
	case Active:
		_, err := m.Activate(ctx, p.ID, 100, "ord-1")
		require.NoError(t, err)
	case Exited:
		_, err := m.Activate(ctx, p.ID, 100, "ord-1")
		require.NoError(t, err)
		_, err = m.Exit(ctx, p.ID, 120, "target")
		require.NoError(t, err)
	case Cancelled:
		_, err := m.Cancel(ctx, p.ID, "rejected")
		require.NoError(t, err)
	}
	return p.ID
}

func TestTransitionTable(t *testing.T) {
	type op struct {
		name string
		to   Status
		run  func(m *Machine, id string) (Position, error)
	}
	ops := []op{
		{"activate", Active, func(m *Machine, id string) (Position, error) {
			return m.Activate(context.Background(), id, 101, "ord-2")
		}},
		{"exit", Exited, func(m *Machine, id string) (Position, error) {
			return m.Exit(context.Background(), id, 110, "manual")
		}},
		{"cancel", Cancelled, func(m *Machine, id string) (Position, error) {
			return m.Cancel(context.Background(), id, "operator")
		}},
	}
	allowed := map[Status]map[string]bool{
		Pending:   {"activate": true, "cancel": true},
		Active:    {"exit": true, "cancel": true},
		Exited:    {},
		Cancelled: {},
	}

	for from, okOps := range allowed {
		for _, o := range ops {
			t.Run(string(from)+"/"+o.name, func(t *testing.T) {
				m, store := newMachine(t)
				id := positionIn(t, m, from)

				p, err := o.run(m, id)
				stored, findErr := store.Find(context.Background(), id)
				require.NoError(t, findErr)

				if okOps[o.name] {
					require.NoError(t, err)
					assert.Equal(t, o.to, p.Status)
					assert.Equal(t, o.to, stored.Status)
					return
				}
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				var ite *InvalidTransitionError
				require.ErrorAs(t, err, &ite)
				assert.Equal(t, from, ite.From)
				assert.Equal(t, from, stored.Status, "status must be unchanged")
			})
		}
	}
}

func TestSameStatusIsInvalid(t *testing.T) {
	for _, s := range []Status{Pending, Active, Exited, Cancelled} {
		err := ValidateTransition(s, s)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s should be invalid, got %v", s, s, err)
		}
	}
}

func TestTransitionsRecordMeta(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()

	id := positionIn(t, m, Pending)
	p, err := m.Cancel(ctx, id, "ltp unavailable")
	require.NoError(t, err)
	assert.Equal(t, "ltp unavailable", p.Meta["cancellation_reason"])
	assert.False(t, p.ClosedAt.IsZero())

	id = positionIn(t, m, Active)
	p, err = m.Exit(ctx, id, 132.5, "trailing_drawdown")
	require.NoError(t, err)
	assert.Equal(t, 132.5, p.ExitPrice)
	assert.Equal(t, 100.0, p.EntryPrice)
	assert.Equal(t, "ord-1", p.OrderNo)
	assert.Equal(t, "trailing_drawdown", p.Meta["exit_reason"])

	h := p.History()
	require.Len(t, h, 2)
	assert.Equal(t, Pending, h[0].From)
	assert.Equal(t, Active, h[0].To)
	assert.Equal(t, Exited, h[1].To)
}

func TestUnknownPosition(t *testing.T) {
	m, _ := newMachine(t)
	_, err := m.Activate(context.Background(), "missing", 1, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusGuards(t *testing.T) {
	m, store := newMachine(t)
	ctx := context.Background()
	id := positionIn(t, m, Active)

	err := store.UpdateStatus(ctx, id, Change{From: Pending, To: Active})
	assert.ErrorIs(t, err, ErrConflict, "stale from status")

	err = store.UpdateStatus(ctx, id, Change{From: Active, To: Pending})
	assert.ErrorIs(t, err, ErrInvalidTransition, "store enforces the table")
}

func TestSaveValidatesDirectStatusWrites(t *testing.T) {
	m, store := newMachine(t)
	ctx := context.Background()
	id := positionIn(t, m, Exited)

	p, err := store.Find(ctx, id)
	require.NoError(t, err)
	p.Status = Active
	err = store.Save(ctx, p)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, _ := store.Find(ctx, id)
	assert.Equal(t, Exited, stored.Status)

	id = positionIn(t, m, Pending)
	p, _ = store.Find(ctx, id)
	p.Status = Active
	p.EntryPrice = 99
	require.NoError(t, store.Save(ctx, p))
	stored, _ = store.Find(ctx, id)
	assert.Equal(t, Active, stored.Status)
	assert.Len(t, stored.History(), 1)

	p.Quantity = 150
	require.NoError(t, store.Save(ctx, p), "non-status save is always allowed")
}

func TestCreateRejectsNonPending(t *testing.T) {
	store := NewMemory()
	err := store.Create(context.Background(), &Position{Status: Active})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentTransitionsOnlyOneWins(t *testing.T) {
	for round := 0; round < 50; round++ {
		m, store := newMachine(t)
		id := positionIn(t, m, Active)

		var wins atomic.Int32
		var invalid atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					_, err = m.Exit(context.Background(), id, 120, "race")
				} else {
					_, err = m.Cancel(context.Background(), id, "race")
				}
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
					invalid.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		require.Equal(t, int32(1), wins.Load(), "exactly one transition may win")
		require.Equal(t, int32(7), invalid.Load())
		p, _ := store.Find(context.Background(), id)
		require.True(t, p.Status.Terminal())
		require.Len(t, p.History(), 2)
	}
}

func TestLedgerQueries(t *testing.T) {
	m, store := newMachine(t)
	ctx := context.Background()

	a := positionIn(t, m, Active)
	_ = positionIn(t, m, Pending)
	c := positionIn(t, m, Cancelled)
	_ = c

	assert.Equal(t, 2, store.CountActive("NIFTY", signal.Call))
	assert.Equal(t, 0, store.CountActive("NIFTY", signal.Put))
	assert.Equal(t, 0, store.CountActive("BANKNIFTY", signal.Call))

	p, _ := store.Find(ctx, a)
	assert.Equal(t, 2, store.CountEntriesSince("nifty", p.CreatedAt.Add(-1)), "never-activated cancels are not entries")

	last, ok := store.LastEntryAt("NIFTY-22500-CE")
	assert.True(t, ok)
	assert.False(t, last.IsZero())
	_, ok = store.LastEntryAt("OTHER")
	assert.False(t, ok)

	assert.Len(t, store.List(Active), 1)
	assert.Len(t, store.Snapshot(), 3)
}

func TestJournalRecordsTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions", "journal.jsonl")
	j, err := OpenJournal(path, zerolog.Nop())
	require.NoError(t, err)

	store := NewMemory(j)
	m := NewMachine(store, zerolog.Nop())
	positionIn(t, m, Exited)
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e JournalEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, Active, entries[0].To)
	assert.Equal(t, Exited, entries[1].To)
	assert.Equal(t, 120.0, entries[1].Position.ExitPrice)
}
