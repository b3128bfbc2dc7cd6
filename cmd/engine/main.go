package main

import (
	"context"
	"errors"
	"net"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"optionbot-go/internal/bias"
	"optionbot-go/internal/candles"
	"optionbot-go/internal/config"
	"optionbot-go/internal/exchange"
	"optionbot-go/internal/execution"
	"optionbot-go/internal/metrics"
	"optionbot-go/internal/notify"
	"optionbot-go/internal/paper"
	"optionbot-go/internal/position"
	"optionbot-go/internal/scanner"
	sig "optionbot-go/internal/signal"
	"optionbot-go/internal/tickstore"
	"optionbot-go/internal/util"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	_ = godotenv.Load() // best-effort
	log := util.NewLogger(getEnv("OPTIONBOT_LOG_LEVEL", "info"))

	path := getEnv("OPTIONBOT_CONFIG", defaultConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("load config")
	}
	if os.Getenv("OPTIONBOT_LOG_LEVEL") == "" {
		log = util.NewLogger(cfg.App.LogLevel)
	}
	provider := config.NewProvider(path, cfg, log)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go provider.Watch(ctx, 5*time.Second)

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}
	stopHealth := serveHealth(cfg.App.HealthAddr, log)
	defer stopHealth()

	loc := cfg.App.Location()
	store := tickstore.New()
	agg, err := candles.NewAggregator([]string{cfg.Bias.HTFInterval, cfg.Bias.MTFInterval, cfg.Bias.LTFInterval}, cfg.Bias.Lookback*2, loc)
	if err != nil {
		log.Fatal().Err(err).Msg("candle intervals")
	}

	feed := exchange.NewFeed(cfg.Exchange.Provider, cfg.Exchange.Instruments, log,
		exchange.WithWebsocketURL(cfg.Exchange.WebsocketURL),
		exchange.WithPollInterval(time.Duration(cfg.Exchange.PollInterval)*time.Millisecond))
	ticks := make(chan sig.Tick, 1024)
	go func() {
		if err := feed.Run(ctx, ticks); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()
	go func() { _ = exchange.Pump(ctx, ticks, store.Put, agg.Observe) }()

	var sink notify.Sink = notify.LogSink{Log: log}
	if wh := notify.NewWebhookSink(cfg.Notify.WebhookURL); wh != nil {
		sink = wh
	}
	alerts := notify.NewDispatcher(sink, cfg.Notify.Buffer, log)
	alerts.Start(ctx)
	defer alerts.Close()

	ledger := paper.NewLedger()
	recorders := []paper.FillRecorder{ledger}
	if cfg.Paper.FillsPath != "" {
		rec, err := paper.NewJSONLRecorder(cfg.Paper.FillsPath, log)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Paper.FillsPath).Msg("open fill recorder")
		}
		defer rec.Close()
		recorders = append(recorders, rec)
	}
	broker := paper.NewBroker(store, paper.NewAccount(cfg.Paper.StartingCash, 0), recorders...)

	var observers []position.Observer
	if cfg.Position.JournalPath != "" {
		journal, err := position.OpenJournal(cfg.Position.JournalPath, log)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Position.JournalPath).Msg("open position journal")
		}
		defer journal.Close()
		observers = append(observers, journal)
	}
	positions := position.NewMemory(observers...)

	scan := scanner.New(provider, scanner.Deps{
		Ticks:     store,
		Bias:      bias.NewEngine(agg, cfg.Bias, log, bias.WithAlerter(alerts)),
		Positions: positions,
		Machine:   position.NewMachine(positions, log),
		Orders:    execution.NewExecutor(broker, log),
	}, log, scanner.WithAlerter(alerts))

	log.Info().Str("provider", cfg.Exchange.Provider).Int("indices", len(cfg.Indices)).Msg("engine started")
	if err := scan.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("scanner stopped")
	}

	snap := broker.Account().Snapshot(nil)
	log.Info().
		Float64("cash", snap.Cash).
		Float64("realized_pnl", snap.RealizedPnL).
		Int("round_trips", len(ledger.RoundTrips())).
		Float64("closed_pnl", ledger.ClosedPnL()).
		Msg("shutting down")
}

// serveHealth exposes the gRPC health service. An empty addr disables it.
func serveHealth(addr string, log zerolog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("health listen")
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Warn().Err(err).Msg("health server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("health up")
	return func() {
		hs.Shutdown()
		srv.GracefulStop()
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
