package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionbot-go/internal/bias"
	"optionbot-go/internal/config"
	"optionbot-go/internal/eligibility"
	"optionbot-go/internal/execution"
	"optionbot-go/internal/notify"
	"optionbot-go/internal/paper"
	"optionbot-go/internal/position"
	"optionbot-go/internal/risk"
	"optionbot-go/internal/signal"
	"optionbot-go/internal/strategy"
	"optionbot-go/internal/tickstore"
)

var scanTime = time.Date(2024, 6, 3, 10, 30, 0, 0, time.UTC)

type fakeBias map[string]signal.Direction

func (f fakeBias) Decide(_ context.Context, instrument string) (bias.Decision, error) {
	dir, ok := f[instrument]
	if !ok {
		return bias.Decision{Direction: signal.NoTrade, Reason: "unknown"}, errors.New("no candles")
	}
	return bias.Decision{Direction: dir, Reason: "test"}, nil
}

// stubStrategy returns whatever fn returns and counts calls.
type stubStrategy struct {
	name  string
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, in strategy.Input) (*signal.Signal, error)
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Evaluate(ctx context.Context, in strategy.Input) (*signal.Signal, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, in)
}

func (s *stubStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func firing(name string) *stubStrategy {
	return &stubStrategy{name: name, fn: func(_ context.Context, in strategy.Input) (*signal.Signal, error) {
		opt, err := strategy.ResolveOption(in)
		if err != nil {
			return nil, err
		}
		return strategy.BuildSignal(in, opt, name, 1, "test fire", nil), nil
	}}
}

func failing(name string) *stubStrategy {
	return &stubStrategy{name: name, fn: func(context.Context, strategy.Input) (*signal.Signal, error) {
		return nil, strategy.ErrMisconfigured
	}}
}

func panicking(name string) *stubStrategy {
	return &stubStrategy{name: name, fn: func(context.Context, strategy.Input) (*signal.Signal, error) {
		panic("boom")
	}}
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingAlerter) Enqueue(ev notify.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recordingAlerter) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type rejectingOrders struct{}

func (rejectingOrders) Submit(context.Context, execution.Order) (execution.Fill, error) {
	return execution.Fill{}, execution.ErrRejected
}

type harness struct {
	scanner *Scanner
	ticks   *tickstore.Store
	store   *position.Memory
	account *paper.Account
	ledger  *paper.Ledger
	alerts  *recordingAlerter
}

func testConfig() *config.Config {
	cfg := &config.Config{
		App:     config.App{Timezone: "UTC"},
		Scanner: config.Scanner{IntervalMs: 1000},
		Indices: []config.Index{{
			Key:        "NIFTY",
			Segment:    "IDX_I",
			SecurityID: "13",
			LotSize:    75,
			Options: map[string]any{
				"segment":       "NSE_FNO",
				"atm_ce_sid":    "45001",
				"atm_pe_sid":    "45002",
				"atm_ce_symbol": "NIFTY-22500-CE",
			},
		}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, dir signal.Direction, strategies []strategy.Strategy, opts ...Option) *harness {
	t.Helper()
	ticks := tickstore.New()
	ticks.Put(signal.Tick{Segment: "NSE_FNO", SecurityID: "45001", LTP: 100, Ts: scanTime})
	store := position.NewMemory()
	account := paper.NewAccount(1_000_000, 0)
	ledger := paper.NewLedger()
	exec := execution.NewExecutor(paper.NewBroker(ticks, account, ledger), zerolog.Nop())
	alerts := &recordingAlerter{}

	deps := Deps{
		Ticks:      ticks,
		Bias:       fakeBias{"IDX_I:13": dir},
		Strategies: strategies,
		Positions:  store,
		Machine:    position.NewMachine(store, zerolog.Nop()),
		Orders:     exec,
	}
	opts = append([]Option{WithClock(func() time.Time { return scanTime }), WithAlerter(alerts)}, opts...)
	s := New(config.NewProvider("", cfg, zerolog.Nop()), deps, zerolog.Nop(), opts...)
	return &harness{scanner: s, ticks: ticks, store: store, account: account, ledger: ledger, alerts: alerts}
}

func TestScanContinuesPastFailingStrategy(t *testing.T) {
	good := firing("good")
	h := newHarness(t, testConfig(), signal.Call, []strategy.Strategy{failing("bad"), panicking("explosive"), good})

	rep := h.scanner.ScanOnce(context.Background())
	if rep.Errors != 2 {
		t.Fatalf("expected 2 isolated strategy errors, got %d", rep.Errors)
	}
	require.Equal(t, 1, good.Calls())
	require.Equal(t, 1, rep.Signals)
	require.Len(t, rep.Opened, 1)
	assert.Equal(t, signal.Call, rep.Decisions["NIFTY"])

	active := h.store.List(position.Active)
	require.Len(t, active, 1)
	p := active[0]
	assert.Equal(t, rep.Opened[0], p.ID)
	assert.Equal(t, 100.0, p.EntryPrice)
	assert.Equal(t, 75, p.Quantity)
	assert.Equal(t, "NIFTY-22500-CE", p.Symbol)
	assert.Equal(t, "good", p.Strategy)
	assert.NotEmpty(t, p.OrderNo)
	assert.Equal(t, 75, h.account.Position("45001"))
	assert.Equal(t, []string{notify.KindSignal}, h.alerts.kinds())
}

func TestNoTradeSkipsStrategies(t *testing.T) {
	st := firing("good")
	h := newHarness(t, testConfig(), signal.NoTrade, []strategy.Strategy{st})

	rep := h.scanner.ScanOnce(context.Background())
	assert.Equal(t, 0, st.Calls())
	assert.Equal(t, signal.NoTrade, rep.Decisions["NIFTY"])
	assert.Empty(t, h.store.List())
}

func TestBiasErrorDegradesToNoTrade(t *testing.T) {
	st := firing("good")
	h := newHarness(t, testConfig(), signal.Call, []strategy.Strategy{st})
	h.scanner.deps.Bias = fakeBias{}

	rep := h.scanner.ScanOnce(context.Background())
	assert.Equal(t, signal.NoTrade, rep.Decisions["NIFTY"])
	assert.Equal(t, 0, st.Calls())
}

func TestSecondSignalIsGatedByExposure(t *testing.T) {
	h := newHarness(t, testConfig(), signal.Call, []strategy.Strategy{firing("a"), firing("b")})

	rep := h.scanner.ScanOnce(context.Background())
	require.Len(t, rep.Opened, 1)
	assert.Equal(t, 2, rep.Signals)
	assert.Equal(t, map[string]int{eligibility.RuleExposure: 1}, rep.Rejected)
}

func TestRejectedOrderCancelsPosition(t *testing.T) {
	h := newHarness(t, testConfig(), signal.Call, []strategy.Strategy{firing("good")})
	h.scanner.deps.Orders = rejectingOrders{}

	rep := h.scanner.ScanOnce(context.Background())
	require.Len(t, rep.Cancelled, 1)
	assert.Empty(t, rep.Opened)

	got := h.store.List(position.Cancelled)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Meta["cancellation_reason"], "order rejected")
	assert.Equal(t, 0, h.store.CountEntriesSince("NIFTY", scanTime.Add(-time.Hour)), "never-active cancels do not use the daily budget")
	assert.Empty(t, h.alerts.kinds())
}

func TestHardStopExitsActivePosition(t *testing.T) {
	h := newHarness(t, testConfig(), signal.Call, []strategy.Strategy{firing("good")})
	rep := h.scanner.ScanOnce(context.Background())
	require.Len(t, rep.Opened, 1)
	id := rep.Opened[0]

	h.ticks.Put(signal.Tick{Segment: "NSE_FNO", SecurityID: "45001", LTP: 60, Ts: scanTime.Add(time.Second)})
	rep = h.scanner.ScanOnce(context.Background())
	require.Equal(t, []string{id}, rep.Exited)
	assert.Equal(t, 1, rep.Rejected[eligibility.RuleCooldown], "re-entry waits out the cooldown")

	p, err := h.store.Find(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, position.Exited, p.Status)
	assert.Equal(t, 60.0, p.ExitPrice)
	assert.Equal(t, risk.ReasonHardStop, p.Meta["exit_reason"])
	assert.Equal(t, 0, h.account.Position("45001"))
	assert.Equal(t, -3000.0, h.ledger.ClosedPnL(), "75 units bought at 100 and sold at 60")
	assert.Equal(t, []string{notify.KindSignal, notify.KindExit}, h.alerts.kinds())
}

func TestLateStrategyResultIsDropped(t *testing.T) {
	slow := &stubStrategy{name: "slow", fn: func(ctx context.Context, in strategy.Input) (*signal.Signal, error) {
		<-ctx.Done()
		opt, _ := strategy.ResolveOption(in)
		return strategy.BuildSignal(in, opt, "slow", 1, "too late", nil), nil
	}}
	h := newHarness(t, testConfig(), signal.Call, []strategy.Strategy{slow}, WithStrategyTimeout(20*time.Millisecond))

	rep := h.scanner.ScanOnce(context.Background())
	assert.Equal(t, 0, rep.Signals)
	assert.Equal(t, 1, rep.Errors)
	assert.Empty(t, h.store.List())
}

func TestStrategiesBuiltFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Strategies = []config.Strategy{{Name: "momentum", Multiplier: 2}}
	h := newHarness(t, cfg, signal.Call, nil)
	h.ticks.Put(signal.Tick{Segment: "NSE_FNO", SecurityID: "45001", LTP: 100, DayHigh: 90, Ts: scanTime})

	rep := h.scanner.ScanOnce(context.Background())
	require.Len(t, rep.Opened, 1)
	p, err := h.store.Find(context.Background(), rep.Opened[0])
	require.NoError(t, err)
	assert.Equal(t, "momentum_buying", p.Strategy)
	assert.Equal(t, 150, p.Quantity)

	broken := testConfig()
	broken.Strategies = []config.Strategy{{Name: "nope"}}
	kept := h.scanner.strategiesFor(broken)
	require.Len(t, kept, 1)
	assert.Equal(t, "momentum_buying", kept[0].Name(), "a bad reload keeps the previous set")
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Scanner.IntervalMs = 5
	st := firing("good")
	h := newHarness(t, cfg, signal.NoTrade, []strategy.Strategy{st})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.scanner.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
