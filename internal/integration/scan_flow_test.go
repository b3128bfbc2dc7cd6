package integration

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionbot-go/internal/bias"
	"optionbot-go/internal/candles"
	"optionbot-go/internal/config"
	"optionbot-go/internal/exchange"
	"optionbot-go/internal/execution"
	"optionbot-go/internal/notify"
	"optionbot-go/internal/paper"
	"optionbot-go/internal/position"
	"optionbot-go/internal/scanner"
	sig "optionbot-go/internal/signal"
	"optionbot-go/internal/tickstore"
)

type collectingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *collectingSink) Notify(_ context.Context, ev notify.Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *collectingSink) kinds() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]int{}
	for _, ev := range c.events {
		out[ev.Kind]++
	}
	return out
}

// syncBuffer lets the feed, dispatcher and scanner goroutines share one log buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type confirmAll struct{}

func (confirmAll) Confirm(sig.Direction) (bool, string) { return true, "confirmed" }

func bar(o, h, l, c float64) candles.Candle {
	return candles.Candle{Open: o, High: h, Low: l, Close: c}
}

func hl(h, l float64) candles.Candle { return bar(l+0.5, h, l, h-0.5) }

func flowConfig() *config.Config {
	cfg := &config.Config{
		App:     config.App{Timezone: "UTC"},
		Scanner: config.Scanner{IntervalMs: 1000},
		Bias:    config.Bias{PivotLeft: 1, PivotRight: 1},
		Strategies: []config.Strategy{
			{Name: "momentum"},
		},
		Indices: []config.Index{{
			Key:        "nifty",
			Segment:    "IDX_I",
			SecurityID: "13",
			LotSize:    75,
			Options: map[string]any{
				"segment":       "NSE_FNO",
				"atm_ce_sid":    45001,
				"atm_ce_symbol": "NIFTY-22500-CE",
			},
		}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestScanFlowOpensPaperPosition(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	buf := &syncBuffer{}
	log := zerolog.New(buf)
	dir := t.TempDir()
	cfg := flowConfig()

	agg, err := candles.NewAggregator([]string{cfg.Bias.HTFInterval, cfg.Bias.MTFInterval, cfg.Bias.LTFInterval}, 200, time.UTC)
	require.NoError(t, err)
	index := candles.Instrument("IDX_I", "13")
	require.NoError(t, agg.Seed(index, cfg.Bias.HTFInterval, []candles.Candle{
		bar(109, 110, 105, 106), bar(106, 107, 100, 101), bar(101, 102, 90, 91),
	}))
	require.NoError(t, agg.Seed(index, cfg.Bias.MTFInterval, []candles.Candle{
		hl(101, 99), hl(105, 103), hl(103, 100), hl(108, 102), hl(106, 101.5), hl(110, 104), hl(109, 105),
	}))
	require.NoError(t, agg.Seed(index, cfg.Bias.LTFInterval, []candles.Candle{hl(92, 90)}))

	store := tickstore.New()
	feed := exchange.NewFeed(exchange.ProviderStub, []config.Instrument{{Segment: "NSE_FNO", SecurityID: "45001"}}, log,
		exchange.WithPollInterval(5*time.Millisecond))
	ticks := make(chan sig.Tick, 64)
	go func() { _ = feed.Run(ctx, ticks) }()
	go func() { _ = exchange.Pump(ctx, ticks, store.Put, agg.Observe) }()

	sink := &collectingSink{}
	alerts := notify.NewDispatcher(sink, 32, log)
	alerts.Start(ctx)

	fillsPath := filepath.Join(dir, "fills.jsonl")
	recorder, err := paper.NewJSONLRecorder(fillsPath, log)
	require.NoError(t, err)
	journalPath := filepath.Join(dir, "positions.jsonl")
	journal, err := position.OpenJournal(journalPath, log)
	require.NoError(t, err)

	positions := position.NewMemory(journal)
	broker := paper.NewBroker(store, paper.NewAccount(1_000_000, 0), recorder)
	engine := bias.NewEngine(agg, cfg.Bias, log,
		bias.WithDetectorFactory(func(bias.Analysis) bias.RejectionDetector { return confirmAll{} }),
		bias.WithAlerter(alerts))

	scan := scanner.New(config.NewProvider("", cfg, log), scanner.Deps{
		Ticks:     store,
		Bias:      engine,
		Positions: positions,
		Machine:   position.NewMachine(positions, log),
		Orders:    execution.NewExecutor(broker, log),
	}, log,
		scanner.WithClock(func() time.Time { return time.Date(2024, 6, 3, 10, 30, 0, 0, time.UTC) }),
		scanner.WithAlerter(alerts))

	var opened []string
	for len(opened) == 0 {
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for an entry; log: %s", buf.String())
		case <-time.After(5 * time.Millisecond):
		}
		rep := scan.ScanOnce(ctx)
		require.Equal(t, sig.Call, rep.Decisions["NIFTY"], "discount htf with bullish mtf is a call")
		opened = rep.Opened
	}

	p, err := positions.Find(ctx, opened[0])
	require.NoError(t, err)
	assert.Equal(t, position.Active, p.Status)
	assert.Equal(t, "momentum_buying", p.Strategy)
	assert.Equal(t, 75, p.Quantity)
	assert.Positive(t, p.EntryPrice)

	alerts.Close()
	cancel()
	require.NoError(t, recorder.Close())
	require.NoError(t, journal.Close())

	fills := readLines(t, fillsPath)
	require.Len(t, fills, 1)
	var fill execution.Fill
	require.NoError(t, json.Unmarshal([]byte(fills[0]), &fill))
	assert.Equal(t, p.OrderNo, fill.OrderNo)
	assert.Equal(t, execution.Buy, fill.Side)
	assert.Equal(t, p.EntryPrice, fill.Price)

	journalLines := readLines(t, journalPath)
	require.Len(t, journalLines, 1, "pending->active is the only committed transition")
	assert.Contains(t, journalLines[0], `"to":"active"`)

	kinds := sink.kinds()
	assert.GreaterOrEqual(t, kinds[notify.KindBias], 1)
	assert.Equal(t, 1, kinds[notify.KindSignal])
	assert.True(t, strings.Contains(buf.String(), "order filled"))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	require.NoError(t, sc.Err())
	return out
}
