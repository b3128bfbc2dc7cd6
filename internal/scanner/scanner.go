// Package scanner runs the periodic scan cycle: bias, strategies, eligibility, entries and exits.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"optionbot-go/internal/bias"
	"optionbot-go/internal/candles"
	"optionbot-go/internal/config"
	"optionbot-go/internal/eligibility"
	"optionbot-go/internal/execution"
	"optionbot-go/internal/metrics"
	"optionbot-go/internal/notify"
	"optionbot-go/internal/position"
	"optionbot-go/internal/risk"
	"optionbot-go/internal/signal"
	"optionbot-go/internal/strategy"
)

// ErrLateResult marks a strategy evaluation that finished after its scan ended.
var ErrLateResult = errors.New("strategy result arrived after scan end")

// TickSource reads the latest tick of an instrument.
type TickSource interface {
	Get(segment, securityID string) (signal.Tick, bool)
}

// BiasDecider picks the direction to trade an instrument in.
type BiasDecider interface {
	Decide(ctx context.Context, instrument string) (bias.Decision, error)
}

// OrderSubmitter places orders.
type OrderSubmitter interface {
	Submit(ctx context.Context, order execution.Order) (execution.Fill, error)
}

// Ledger is the position view the scanner reads: the eligibility questions plus a status listing.
type Ledger interface {
	eligibility.Ledger
	List(statuses ...position.Status) []position.Position
}

// Alerter accepts fire-and-forget notifications.
type Alerter interface {
	Enqueue(ev notify.Event) bool
}

// Deps are the collaborators of a Scanner. Strategies may be nil to build them from config.
type Deps struct {
	Ticks      TickSource
	Bias       BiasDecider
	Strategies []strategy.Strategy
	State      strategy.StateStore
	Positions  Ledger
	Machine    *position.Machine
	Orders     OrderSubmitter
	Monitor    *risk.Monitor
}

// Report summarizes one scan cycle.
type Report struct {
	Decisions map[string]signal.Direction
	Signals   int
	Rejected  map[string]int
	Opened    []string
	Cancelled []string
	Exited    []string
	Errors    int
}

func newReport() *Report {
	return &Report{Decisions: map[string]signal.Direction{}, Rejected: map[string]int{}}
}

// Scanner owns one worker goroutine; ScanOnce is not meant to be called concurrently.
type Scanner struct {
	cfg     *config.Provider
	deps    Deps
	alerts  Alerter
	log     zerolog.Logger
	now     func() time.Time
	timeout time.Duration

	mu         sync.Mutex
	builtFrom  *config.Config
	strategies []strategy.Strategy
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAlerter sends signal and exit notifications to a.
func WithAlerter(a Alerter) Option {
	return func(s *Scanner) { s.alerts = a }
}

// WithStrategyTimeout bounds each strategy evaluation. Zero uses the scan interval.
func WithStrategyTimeout(d time.Duration) Option {
	return func(s *Scanner) { s.timeout = d }
}

// New wires a scanner over a config provider.
func New(cfg *config.Provider, deps Deps, log zerolog.Logger, opts ...Option) *Scanner {
	if deps.State == nil {
		deps.State = strategy.NewMemoryState()
	}
	if deps.Monitor == nil {
		deps.Monitor = risk.NewMonitor()
	}
	s := &Scanner{cfg: cfg, deps: deps, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scans on every tick of the configured interval until ctx ends.
func (s *Scanner) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Snapshot().Scanner.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", interval).Msg("scanner started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			rep := s.ScanOnce(ctx)
			s.log.Debug().Int("signals", rep.Signals).Int("opened", len(rep.Opened)).Int("exited", len(rep.Exited)).Int("errors", rep.Errors).Msg("scan complete")
		}
	}
}

// ScanOnce runs one full cycle against the current config snapshot.
func (s *Scanner) ScanOnce(ctx context.Context) *Report {
	cfg := s.cfg.Snapshot()
	rep := newReport()
	now := s.now()

	limit := s.timeout
	if limit <= 0 {
		limit = time.Duration(cfg.Scanner.IntervalMs) * time.Millisecond
	}
	scanCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	s.checkExits(scanCtx, cfg, now, rep)

	strategies := s.strategiesFor(cfg)
	for _, ixCfg := range cfg.Indices {
		if scanCtx.Err() != nil {
			break
		}
		s.scanIndex(scanCtx, cfg, ixCfg, strategies, now, rep)
	}

	metrics.ScansTotal.Inc()
	metrics.ActivePositions.Set(float64(len(s.deps.Positions.List(position.Active))))
	return rep
}

// strategiesFor rebuilds the strategy set when a new config snapshot appears.
// A broken reload keeps the previous set.
func (s *Scanner) strategiesFor(cfg *config.Config) []strategy.Strategy {
	if s.deps.Strategies != nil {
		return s.deps.Strategies
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.builtFrom == cfg {
		return s.strategies
	}
	built, err := strategy.BuildAll(cfg.Strategies)
	if err != nil {
		s.log.Error().Err(err).Msg("strategy config rejected, keeping previous set")
	} else {
		s.strategies = built
	}
	s.builtFrom = cfg
	return s.strategies
}

func (s *Scanner) scanIndex(ctx context.Context, cfg *config.Config, ixCfg config.Index, strategies []strategy.Strategy, now time.Time, rep *Report) {
	defer func() {
		if r := recover(); r != nil {
			rep.Errors++
			s.log.Error().Interface("panic", r).Str("index", ixCfg.Key).Msg("index scan panicked")
		}
	}()

	ix, err := signal.NormalizeIndex(ixCfg.Raw())
	if err != nil {
		rep.Errors++
		s.log.Warn().Err(err).Str("index", ixCfg.Key).Msg("skipping index")
		return
	}

	decision, err := s.deps.Bias.Decide(ctx, candles.Instrument(ix.Segment, ix.SecurityID))
	if err != nil {
		s.log.Warn().Err(err).Str("index", ix.Key).Msg("bias degraded to no_trade")
	}
	rep.Decisions[ix.Key] = decision.Direction
	metrics.BiasDecisions.WithLabelValues(ix.Key, string(decision.Direction)).Inc()
	if decision.Direction != signal.Call && decision.Direction != signal.Put {
		return
	}

	in := strategy.Input{
		Index:     ix,
		Candidate: ixCfg.Candidate(decision.Direction),
		Direction: decision.Direction,
		Ticks:     s.deps.Ticks,
		State:     s.deps.State,
		Now:       now,
		Location:  cfg.App.Location(),
	}
	for _, st := range strategies {
		sig, err := s.evaluate(ctx, st, in)
		if err != nil {
			rep.Errors++
			metrics.StrategyErrors.WithLabelValues(st.Name()).Inc()
			s.log.Warn().Err(err).Str("index", ix.Key).Str("strategy", st.Name()).Msg("strategy failed")
			continue
		}
		if sig == nil {
			continue
		}
		rep.Signals++
		metrics.SignalsTotal.WithLabelValues(ix.Key, st.Name()).Inc()
		s.enter(ctx, cfg, ix, sig, now, rep)
	}
}

type evalResult struct {
	sig *signal.Signal
	err error
}

// evaluate runs one strategy with panic isolation. A result that lands after ctx is done is dropped.
func (s *Scanner) evaluate(ctx context.Context, st strategy.Strategy, in strategy.Input) (*signal.Signal, error) {
	done := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalResult{err: fmt.Errorf("strategy %s panicked: %v", st.Name(), r)}
			}
		}()
		sig, err := st.Evaluate(ctx, in)
		done <- evalResult{sig: sig, err: err}
	}()
	select {
	case res := <-done:
		if ctx.Err() != nil {
			return nil, ErrLateResult
		}
		return res.sig, res.err
	case <-ctx.Done():
		return nil, ErrLateResult
	}
}

func (s *Scanner) enter(ctx context.Context, cfg *config.Config, ix signal.IndexContext, sig *signal.Signal, now time.Time, rep *Report) {
	pick := signal.OptionCandidate{
		SecurityID: sig.SecurityID,
		Segment:    sig.Segment,
		Symbol:     sig.Meta.CandidateSymbol,
		LotSize:    sig.Meta.LotSize,
		Expiry:     sig.Meta.Expiry,
	}
	chain := eligibility.DefaultChain(cfg.Eligibility, cfg.App.Location(), s.deps.Positions, s.deps.Ticks)
	ok, rule, reason, err := chain.Evaluate(eligibility.Context{Index: ix, Pick: pick, Direction: sig.Direction, Now: now})
	if err != nil {
		rep.Errors++
		s.log.Warn().Err(err).Str("index", ix.Key).Msg("eligibility aborted")
		return
	}
	if !ok {
		rep.Rejected[rule]++
		metrics.GateRejections.WithLabelValues(rule).Inc()
		s.log.Debug().Str("index", ix.Key).Str("strategy", sig.Meta.StrategyName).Str("rule", rule).Str("reason", reason).Msg("signal gated")
		return
	}

	p := &position.Position{
		Side:       position.Buy,
		Direction:  sig.Direction,
		IndexKey:   ix.Key,
		Symbol:     pick.Symbol,
		SecurityID: pick.SecurityID,
		Segment:    pick.Segment,
		Strategy:   sig.Meta.StrategyName,
		Quantity:   sig.Quantity(),
		CreatedAt:  now,
		Meta: map[string]any{
			"reason":     sig.Reason,
			"multiplier": sig.Meta.Multiplier,
			"signal":     sig.Meta.Extra,
		},
	}
	if sig.Meta.Advisory != nil {
		p.Meta["advisory"] = sig.Meta.Advisory.Text
	}
	if err := s.deps.Machine.Open(ctx, p); err != nil {
		rep.Errors++
		s.log.Error().Err(err).Str("symbol", p.Symbol).Msg("open position failed")
		return
	}

	fill, err := s.deps.Orders.Submit(ctx, execution.Order{
		ClientID:   p.ID,
		Segment:    p.Segment,
		SecurityID: p.SecurityID,
		Symbol:     p.Symbol,
		Side:       execution.Buy,
		Qty:        p.Quantity,
	})
	if err != nil {
		if _, cerr := s.deps.Machine.Cancel(ctx, p.ID, err.Error()); cerr != nil {
			s.log.Error().Err(cerr).Str("id", p.ID).Msg("cancel after rejected order failed")
		}
		rep.Cancelled = append(rep.Cancelled, p.ID)
		return
	}
	if _, err := s.deps.Machine.Activate(ctx, p.ID, fill.Price, fill.OrderNo); err != nil {
		rep.Errors++
		s.log.Error().Err(err).Str("id", p.ID).Msg("activate position failed")
		return
	}
	rep.Opened = append(rep.Opened, p.ID)
	s.notify(notify.Event{
		Kind:      notify.KindSignal,
		Subject:   p.Symbol,
		Direction: string(p.Direction),
		Message:   fmt.Sprintf("%s entered %d @ %.2f: %s", sig.Meta.StrategyName, p.Quantity, fill.Price, sig.Reason),
		Fields:    map[string]any{"index": ix.Key, "position_id": p.ID, "order_no": fill.OrderNo},
		At:        now,
	})
}

// checkExits runs the risk monitor over every active position and closes those it flags.
// A failed exit order leaves the position active for the next scan.
func (s *Scanner) checkExits(ctx context.Context, cfg *config.Config, now time.Time, rep *Report) {
	schedule := risk.NewSchedule(cfg.Risk)
	for _, p := range s.deps.Positions.List(position.Active) {
		tk, ok := s.deps.Ticks.Get(p.Segment, p.SecurityID)
		if !ok {
			continue
		}
		exit, hit := s.deps.Monitor.Check(schedule, risk.Observation{
			PositionID: p.ID,
			IndexKey:   p.IndexKey,
			EntryPrice: p.EntryPrice,
			Tick:       tk,
			Now:        now,
		})
		if !hit {
			continue
		}
		fill, err := s.deps.Orders.Submit(ctx, execution.Order{
			ClientID:   p.ID,
			Segment:    p.Segment,
			SecurityID: p.SecurityID,
			Symbol:     p.Symbol,
			Side:       execution.Sell,
			Qty:        p.Quantity,
		})
		if err != nil {
			rep.Errors++
			s.log.Warn().Err(err).Str("id", p.ID).Str("reason", exit.Reason).Msg("exit order failed, will retry")
			continue
		}
		if _, err := s.deps.Machine.Exit(ctx, p.ID, fill.Price, exit.Reason); err != nil {
			rep.Errors++
			s.log.Error().Err(err).Str("id", p.ID).Msg("exit transition failed")
			continue
		}
		s.deps.Monitor.Forget(p.ID)
		metrics.ExitsTotal.WithLabelValues(exit.Reason).Inc()
		rep.Exited = append(rep.Exited, p.ID)
		s.notify(notify.Event{
			Kind:      notify.KindExit,
			Subject:   p.Symbol,
			Direction: string(p.Direction),
			Message:   fmt.Sprintf("%s @ %.2f (pnl %.2f%%, peak %.2f%%)", exit.Reason, fill.Price, exit.PnLPct, exit.PeakPct),
			Fields:    map[string]any{"index": p.IndexKey, "position_id": p.ID},
			At:        now,
		})
	}
}

func (s *Scanner) notify(ev notify.Event) {
	if s.alerts == nil {
		return
	}
	if !s.alerts.Enqueue(ev) {
		s.log.Debug().Str("kind", ev.Kind).Str("subject", ev.Subject).Msg("notification not queued")
	}
}
