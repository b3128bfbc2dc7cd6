// Package bias decides whether an index is a call, put, or no-trade from multi-timeframe structure.
package bias

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"optionbot-go/internal/candles"
	"optionbot-go/internal/config"
	"optionbot-go/internal/notify"
	"optionbot-go/internal/signal"
)

// Decision is the bias for one instrument.
type Decision struct {
	Direction signal.Direction
	Reason    string
}

func noTrade(format string, args ...any) Decision {
	return Decision{Direction: signal.NoTrade, Reason: fmt.Sprintf(format, args...)}
}

// Alerter accepts fire-and-forget alerts.
type Alerter interface {
	Enqueue(ev notify.Event) bool
}

// Engine runs the HTF zone, MTF structure and LTF rejection gates in order.
type Engine struct {
	src      candles.Source
	cfg      config.Bias
	detector DetectorFactory
	alerts   Alerter
	log      zerolog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDetectorFactory replaces the lower-timeframe rejection detector.
func WithDetectorFactory(f DetectorFactory) Option {
	return func(e *Engine) {
		if f != nil {
			e.detector = f
		}
	}
}

// WithAlerter enqueues an alert for every call or put decision.
func WithAlerter(a Alerter) Option {
	return func(e *Engine) { e.alerts = a }
}

func NewEngine(src candles.Source, cfg config.Bias, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{src: src, cfg: cfg, detector: NewWickRejection, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) options() Options {
	return Options{
		PivotLeft:         e.cfg.PivotLeft,
		PivotRight:        e.cfg.PivotRight,
		Lookback:          e.cfg.Lookback,
		PremiumThreshold:  e.cfg.PremiumThreshold,
		DiscountThreshold: e.cfg.DiscountThreshold,
	}
}

func (e *Engine) analyze(ctx context.Context, instrument, interval string) (Analysis, error) {
	bars, err := e.src.Candles(ctx, instrument, interval)
	if err != nil {
		return Analysis{}, fmt.Errorf("bias %s %s: %w", instrument, interval, err)
	}
	return Analyze(interval, bars, e.options()), nil
}

// Decide returns call, put, or no_trade for the instrument. Candle errors degrade to
// no_trade and are returned for logging.
func (e *Engine) Decide(ctx context.Context, instrument string) (Decision, error) {
	htf, err := e.analyze(ctx, instrument, e.cfg.HTFInterval)
	if err != nil {
		return noTrade("htf unavailable"), err
	}
	var dir signal.Direction
	switch htf.Zone {
	case Discount:
		dir = signal.Call
	case Premium:
		dir = signal.Put
	default:
		return noTrade("htf at equilibrium (%.2f)", htf.Position), nil
	}

	mtf, err := e.analyze(ctx, instrument, e.cfg.MTFInterval)
	if err != nil {
		return noTrade("mtf unavailable"), err
	}
	want := Bullish
	if dir == signal.Put {
		want = Bearish
	}
	if mtf.Trend != want {
		return noTrade("mtf trend %s disagrees with htf %s", mtf.Trend, htf.Zone), nil
	}
	if e.cfg.RequireCHoCH && !mtf.CHoCH {
		return noTrade("mtf shows no change of character"), nil
	}

	ltf, err := e.analyze(ctx, instrument, e.cfg.LTFInterval)
	if err != nil {
		return noTrade("ltf unavailable"), err
	}
	ok, why := e.detector(ltf).Confirm(dir)
	if !ok {
		return noTrade("ltf rejection unconfirmed: %s", why), nil
	}

	d := Decision{Direction: dir, Reason: fmt.Sprintf("htf %s, mtf %s, ltf %s", htf.Zone, mtf.Trend, why)}
	e.alert(instrument, d)
	return d, nil
}

func (e *Engine) alert(instrument string, d Decision) {
	if e.alerts == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn().Interface("panic", r).Str("instrument", instrument).Msg("bias alert dispatch failed")
		}
	}()
	if !e.alerts.Enqueue(notify.Event{
		Kind:      notify.KindBias,
		Subject:   instrument,
		Direction: string(d.Direction),
		Message:   d.Reason,
	}) {
		e.log.Debug().Str("instrument", instrument).Msg("bias alert not queued")
	}
}
