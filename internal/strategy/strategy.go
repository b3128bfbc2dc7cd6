// Package strategy hosts the signal engines evaluated once per index per scan.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"optionbot-go/internal/signal"
)

// ErrMisconfigured marks structural problems a strategy cannot evaluate around.
// Ordinary "no signal" conditions are reported as a nil signal with a nil error.
var ErrMisconfigured = errors.New("strategy misconfigured")

// Strategy evaluates one index and optionally returns a candidate Signal.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (*signal.Signal, error)
}

// TickSource reads the latest tick of an instrument.
type TickSource interface {
	Get(segment, securityID string) (signal.Tick, bool)
}

// Input is everything a single evaluation sees.
type Input struct {
	Index     signal.IndexContext
	Candidate *signal.OptionCandidate
	Direction signal.Direction
	Ticks     TickSource
	State     StateStore
	Now       time.Time
	Location  *time.Location
}

func (in Input) local() time.Time {
	if in.Location == nil {
		return in.Now
	}
	return in.Now.In(in.Location)
}

// ResolveOption picks the instrument to evaluate: the candidate override when set,
// otherwise the index's at-the-money option for the direction.
func ResolveOption(in Input) (signal.OptionCandidate, error) {
	if c := in.Candidate; c != nil && strings.TrimSpace(c.SecurityID) != "" {
		out := *c
		if out.Segment == "" {
			out.Segment = in.Index.OptionSegment()
		}
		if out.LotSize <= 0 {
			out.LotSize = in.Index.LotSize
		}
		if out.Symbol == "" {
			out.Symbol = optionSymbol(in.Index, in.Direction)
		}
		return out, nil
	}
	sid := in.Index.ATM(in.Direction)
	if sid == "" {
		return signal.OptionCandidate{}, fmt.Errorf("%w: index %s has no atm option for %s", ErrMisconfigured, in.Index.Key, in.Direction)
	}
	return signal.OptionCandidate{
		SecurityID: sid,
		Segment:    in.Index.OptionSegment(),
		Symbol:     optionSymbol(in.Index, in.Direction),
		LotSize:    in.Index.LotSize,
	}, nil
}

func optionSymbol(ix signal.IndexContext, dir signal.Direction) string {
	key := "atm_symbol"
	suffix := "ATM"
	switch dir {
	case signal.Call:
		key, suffix = "atm_ce_symbol", "ATM-CE"
	case signal.Put:
		key, suffix = "atm_pe_symbol", "ATM-PE"
	}
	if s := ix.Options[key]; s != "" {
		return s
	}
	if s := ix.Options["atm_symbol"]; s != "" {
		return s
	}
	return ix.Key + "-" + suffix
}

// FetchTick reads the option's tick. A missing tick is not an error.
func FetchTick(in Input, opt signal.OptionCandidate) (signal.Tick, bool) {
	if in.Ticks == nil {
		return signal.Tick{}, false
	}
	tk, ok := in.Ticks.Get(opt.Segment, opt.SecurityID)
	if !ok || tk.LTP <= 0 {
		return signal.Tick{}, false
	}
	return tk, true
}

// BuildSignal assembles a Signal with lot size = option lot × max(multiplier, 1).
func BuildSignal(in Input, opt signal.OptionCandidate, name string, multiplier int, reason string, extra map[string]any) *signal.Signal {
	if multiplier < 1 {
		multiplier = 1
	}
	lot := opt.LotSize
	if lot < 1 {
		lot = 1
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["option_lot_size"] = lot
	return &signal.Signal{
		Segment:    opt.Segment,
		SecurityID: opt.SecurityID,
		Direction:  in.Direction,
		Reason:     reason,
		Ts:         in.Now,
		Meta: signal.Meta{
			Index:           in.Index.Key,
			CandidateSymbol: opt.Symbol,
			StrategyName:    name,
			LotSize:         lot * multiplier,
			Multiplier:      multiplier,
			Expiry:          opt.Expiry,
			Extra:           extra,
		},
	}
}

// StateKey scopes persisted strategy state to one index and one strategy.
func StateKey(indexKey, strategyName string) string {
	return strings.ToUpper(strings.TrimSpace(indexKey)) + "|" + strategyName
}

// prepare runs the shared preamble: direction check, option resolution, tick fetch.
// ok is false when the strategy should abstain.
func prepare(in Input) (signal.OptionCandidate, signal.Tick, bool, error) {
	if in.Direction != signal.Call && in.Direction != signal.Put {
		return signal.OptionCandidate{}, signal.Tick{}, false, nil
	}
	opt, err := ResolveOption(in)
	if err != nil {
		return opt, signal.Tick{}, false, err
	}
	tk, ok := FetchTick(in, opt)
	return opt, tk, ok, nil
}

func pct(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromFloat(num / den * 100).Round(2).InexactFloat64()
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromFloat(num / den).Round(4).InexactFloat64()
}

// Advisor produces optional free-text context for a signal.
type Advisor interface {
	Advise(ctx context.Context, s *signal.Signal) (signal.Advisory, error)
}

// WithAdvisor decorates s so fired signals carry an advisory note when the advisor
// returns text with an allowed permission class. Advisor failures leave the signal as is.
func WithAdvisor(s Strategy, a Advisor, log zerolog.Logger) Strategy {
	if a == nil {
		return s
	}
	return &advised{Strategy: s, advisor: a, log: log}
}

type advised struct {
	Strategy
	advisor Advisor
	log     zerolog.Logger
}

func (a *advised) Evaluate(ctx context.Context, in Input) (*signal.Signal, error) {
	sig, err := a.Strategy.Evaluate(ctx, in)
	if err != nil || sig == nil {
		return sig, err
	}
	adv, err := a.advisor.Advise(ctx, sig)
	if err != nil {
		a.log.Debug().Err(err).Str("strategy", a.Name()).Msg("advisory unavailable")
		return sig, nil
	}
	if adv.Valid() {
		sig.Meta.Advisory = &adv
	}
	return sig, nil
}
