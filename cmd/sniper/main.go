package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thegratidude/Raydium-New-Pools-Listener/config"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/adapters/feed"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/adapters/notify"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/adapters/paper"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/adapters/storage"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/adapters/swapd"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/engine"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/ports"
)

const paperFillLatency = 200 * time.Millisecond

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	live := flag.Bool("live", false, "execute real swaps (overrides config)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *live {
		cfg.Trading.LiveTrading = true
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)
	log := slog.Default()

	slog.Info("sniper starting",
		"config", *configPath,
		"feed", cfg.Feed.URL,
		"live", cfg.Trading.LiveTrading,
		"buy_amount", cfg.Trading.InitialBuyAmount,
	)

	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open ledger", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer ledger.Close()

	var executor ports.Executor
	if cfg.Trading.LiveTrading {
		executor = swapd.NewClient(
			cfg.Swapd.BaseURL,
			time.Duration(cfg.Swapd.TimeoutSeconds)*time.Second,
			cfg.Swapd.RequestsPerSec,
			log,
		)
	} else {
		executor = paper.NewExecutor(paperFillLatency, log)
	}

	notifier := notify.NewConsole(cfg.Trading.LiveTrading)
	book := engine.NewPositionBook(ledger, cfg.Paper.InitialBalanceSOL, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := book.Restore(ctx); err != nil {
		slog.Error("failed to restore positions", "err", err)
		os.Exit(1)
	}
	if open := book.OpenPositions(); len(open) > 0 {
		slog.Warn("restored open positions from a previous run", "count", len(open))
	}

	eng := engine.New(cfg, executor, ledger, book, notifier, log)

	feedClient := feed.NewClient(
		cfg.Feed.URL,
		time.Duration(cfg.Feed.ReconnectDelaySeconds)*time.Second,
		time.Duration(cfg.Feed.ReconnectDelayMaxSecs)*time.Second,
		eng.Handle,
		log,
	)

	// SIGUSR1 prints the portfolio without stopping the engine.
	report := make(chan os.Signal, 1)
	signal.Notify(report, syscall.SIGUSR1)
	defer signal.Stop(report)
	go func() {
		for range report {
			notifier.Summary(book.Summary(), book.OpenPositions())
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return feedClient.Run(ctx) })

	err = g.Wait()

	notifier.Summary(book.Summary(), book.OpenPositions())

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sniper exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("sniper stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
