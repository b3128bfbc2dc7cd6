// Package candles aggregates ticks into OHLC bars per instrument and interval.
package candles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"optionbot-go/internal/signal"
)

var (
	// ErrUnknownInterval reports an interval the aggregator does not track.
	ErrUnknownInterval = errors.New("candles: unknown interval")
	// ErrNoData reports an instrument with no bars yet.
	ErrNoData = errors.New("candles: no data")
)

// Candle is one OHLC bar. Start is aligned to the interval boundary.
type Candle struct {
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Source serves ordered candle series, oldest first.
type Source interface {
	Candles(ctx context.Context, instrument, interval string) ([]Candle, error)
}

// Instrument is the series key for a (segment, security id) pair.
func Instrument(segment, securityID string) string {
	return strings.ToUpper(strings.TrimSpace(segment)) + ":" + strings.TrimSpace(securityID)
}

// ParseInterval accepts "5m", "m5", "1h", "h1", "60m", "1d" and Go durations.
func ParseInterval(s string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "1d", "d1", "day":
		return 24 * time.Hour, nil
	}
	if len(v) > 1 && (v[0] == 'm' || v[0] == 'h') {
		v = v[1:] + v[:1]
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, s)
	}
	return d, nil
}

// Align floors t to the interval boundary, counting from local midnight.
func Align(t time.Time, d time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	tt := t.In(loc)
	y, m, day := tt.Date()
	midnight := time.Date(y, m, day, 0, 0, 0, 0, loc)
	if d >= 24*time.Hour {
		return midnight
	}
	return midnight.Add(tt.Sub(midnight) / d * d)
}

type series struct {
	bars    []Candle
	lastVol float64
}

// Aggregator builds bars for a fixed set of intervals from the tick stream.
// It is safe for one writer and many readers.
type Aggregator struct {
	mu        sync.RWMutex
	intervals map[string]time.Duration
	maxBars   int
	loc       *time.Location
	series    map[string]map[string]*series // instrument -> interval -> bars
}

// NewAggregator tracks the given intervals, keeping at most maxBars per series.
func NewAggregator(intervals []string, maxBars int, loc *time.Location) (*Aggregator, error) {
	if maxBars <= 0 {
		maxBars = 500
	}
	if loc == nil {
		loc = time.UTC
	}
	a := &Aggregator{
		intervals: make(map[string]time.Duration, len(intervals)),
		maxBars:   maxBars,
		loc:       loc,
		series:    make(map[string]map[string]*series),
	}
	for _, iv := range intervals {
		d, err := ParseInterval(iv)
		if err != nil {
			return nil, err
		}
		a.intervals[iv] = d
	}
	return a, nil
}

// Observe folds a tick into every tracked interval of its instrument.
// Ticks older than the current bar are ignored.
func (a *Aggregator) Observe(tk signal.Tick) {
	if tk.LTP <= 0 || tk.Ts.IsZero() {
		return
	}
	key := Instrument(tk.Segment, tk.SecurityID)

	a.mu.Lock()
	defer a.mu.Unlock()
	byInterval := a.series[key]
	if byInterval == nil {
		byInterval = make(map[string]*series, len(a.intervals))
		a.series[key] = byInterval
	}
	for name, d := range a.intervals {
		s := byInterval[name]
		if s == nil {
			s = &series{lastVol: tk.Volume}
			byInterval[name] = s
		}
		s.update(tk, Align(tk.Ts, d, a.loc), a.maxBars)
	}
}

func (s *series) update(tk signal.Tick, start time.Time, maxBars int) {
	vol := tk.Volume - s.lastVol
	if vol < 0 {
		// cumulative volume reset at session start
		vol = tk.Volume
	}
	s.lastVol = tk.Volume

	n := len(s.bars)
	if n > 0 {
		cur := &s.bars[n-1]
		switch {
		case start.Equal(cur.Start):
			if tk.LTP > cur.High {
				cur.High = tk.LTP
			}
			if tk.LTP < cur.Low {
				cur.Low = tk.LTP
			}
			cur.Close = tk.LTP
			cur.Volume += vol
			return
		case start.Before(cur.Start):
			return
		}
	}
	s.bars = append(s.bars, Candle{Start: start, Open: tk.LTP, High: tk.LTP, Low: tk.LTP, Close: tk.LTP, Volume: vol})
	if len(s.bars) > maxBars {
		s.bars = append(s.bars[:0], s.bars[len(s.bars)-maxBars:]...)
	}
}

// Seed replaces a series, e.g. with a historical backfill. Bars must be oldest first.
func (a *Aggregator) Seed(instrument, interval string, bars []Candle) error {
	if _, ok := a.intervals[interval]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	if len(bars) > a.maxBars {
		bars = bars[len(bars)-a.maxBars:]
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	byInterval := a.series[instrument]
	if byInterval == nil {
		byInterval = make(map[string]*series)
		a.series[instrument] = byInterval
	}
	byInterval[interval] = &series{bars: append([]Candle(nil), bars...)}
	return nil
}

// Candles implements Source. The last bar may still be forming.
func (a *Aggregator) Candles(ctx context.Context, instrument, interval string) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := a.intervals[interval]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.series[instrument][interval]
	if s == nil || len(s.bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, instrument, interval)
	}
	return append([]Candle(nil), s.bars...), nil
}
