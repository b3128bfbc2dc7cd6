// Package exchange hosts market data connectors that stream option ticks into the engine.
package exchange

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"optionbot-go/internal/config"
	"optionbot-go/internal/metrics"
	"optionbot-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic option ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderWebsocket streams JSON tick frames from a broker websocket.
	ProviderWebsocket = "websocket"
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	instruments  []config.Instrument
	log          zerolog.Logger
	pollInterval time.Duration
	wsURL        string
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const defaultPollInterval = 500 * time.Millisecond

// WithPollInterval overrides the cadence of the stub provider.
func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithWebsocketURL points the websocket provider at a tick endpoint.
func WithWebsocketURL(url string) Option {
	return func(f *Feed) {
		f.wsURL = strings.TrimSpace(url)
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, instruments []config.Instrument, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		pollInterval: defaultPollInterval,
	}
	f.setInstruments(instruments)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetInstruments replaces the tracked instrument list (deduplicated, sorted for determinism).
func (f *Feed) SetInstruments(instruments []config.Instrument) {
	f.setInstruments(instruments)
}

func (f *Feed) setInstruments(instruments []config.Instrument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[config.Instrument]struct{}, len(instruments))
	for _, in := range instruments {
		in.Segment = strings.ToUpper(strings.TrimSpace(in.Segment))
		in.SecurityID = strings.TrimSpace(in.SecurityID)
		if in.Segment == "" || in.SecurityID == "" {
			continue
		}
		unique[in] = struct{}{}
	}
	f.instruments = f.instruments[:0]
	for in := range unique {
		f.instruments = append(f.instruments, in)
	}
	sort.Slice(f.instruments, func(i, j int) bool {
		if f.instruments[i].Segment != f.instruments[j].Segment {
			return f.instruments[i].Segment < f.instruments[j].Segment
		}
		return f.instruments[i].SecurityID < f.instruments[j].SecurityID
	})
}

func (f *Feed) snapshotInstruments() []config.Instrument {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]config.Instrument, len(f.instruments))
	copy(out, f.instruments)
	return out
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	switch f.provider {
	case ProviderWebsocket:
		return f.runWebsocket(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			step++
			for i, in := range f.snapshotInstruments() {
				tick := stubTick(in, i, step, ts)
				if !emit(ctx, out, tick) {
					return ctx.Err()
				}
			}
		}
	}
}

// stubTick walks a sine around a per-instrument base so every strategy input moves.
func stubTick(in config.Instrument, slot, step int, ts time.Time) signal.Tick {
	base := 100.0 + float64(slot)*25
	ltp := base + 5*math.Sin(float64(step)/10)
	trend := "up"
	if math.Cos(float64(step)/10) < 0 {
		trend = "down"
	}
	return signal.Tick{
		Segment:       in.Segment,
		SecurityID:    in.SecurityID,
		LTP:           ltp,
		VWAP:          base,
		Volume:        float64(step * 100),
		AvgVolume:     float64(step * 80),
		OI:            10000 + float64(step*10),
		PrevClose:     base - 1,
		DayHigh:       base + 4,
		PrevHigh:      base + 2,
		EMA9:          base + 1,
		EMA21:         base - 1,
		HTFSupertrend: trend,
		RSI:           50 + 20*math.Sin(float64(step)/10),
		ATRRatio:      1,
		Ts:            ts,
	}
}

func emit(ctx context.Context, out chan<- signal.Tick, tick signal.Tick) bool {
	select {
	case out <- tick:
		metrics.TicksTotal.WithLabelValues(tick.Segment).Inc()
		return true
	case <-ctx.Done():
		return false
	}
}
