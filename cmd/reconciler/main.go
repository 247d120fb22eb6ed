package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cryptosports721/eostime-sub000/config"
	"github.com/cryptosports721/eostime-sub000/internal/adapters/eos"
	"github.com/cryptosports721/eostime-sub000/internal/adapters/notify"
	"github.com/cryptosports721/eostime-sub000/internal/adapters/storage"
	"github.com/cryptosports721/eostime-sub000/internal/application/harpoon"
	"github.com/cryptosports721/eostime-sub000/internal/application/payout"
	"github.com/cryptosports721/eostime-sub000/internal/application/reconciler"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one poll cycle, print the auction table and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("reconciler starting",
		"config", *configPath,
		"api", cfg.Chain.APIBase,
		"contract", cfg.Chain.Contract,
		"interval", cfg.PollInterval(),
		"once", *once,
	)

	client := eos.NewClient(cfg.Chain.APIBase, cfg.Chain.SignerBase, cfg.Chain.Contract)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole()
	fairness := harpoon.NewEngine(store, console)
	payouts := payout.New(client, store, console, cfg.PayoutSpacing())

	recCfg := reconciler.DefaultConfig()
	recCfg.PollInterval = cfg.PollInterval()
	recCfg.ErrorBackoff = cfg.ErrorBackoff()
	recCfg.EndedDebounce = cfg.Reconciler.EndedDebouncePolls
	recCfg.RemovedSoak = cfg.Reconciler.RemovedSoakPolls
	recCfg.HouseCutRate = cfg.Reconciler.HouseCutRate
	recCfg.TypeConfigTTL = cfg.TypeConfigTTL()
	recCfg.EscrowAccount = cfg.Chain.Escrow

	rec := reconciler.New(recCfg, client, store, console, fairness, payouts)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		if _, err := rec.Poll(ctx); err != nil {
			slog.Error("poll failed", "err", err)
			os.Exit(1)
		}
		console.PrintAuctions(rec.Lanes())
		return
	}

	if err := rec.Run(ctx); err != nil {
		slog.Error("reconciler exited with error", "err", err)
		os.Exit(1)
	}

	if err := rec.Stop(); err != nil {
		slog.Warn("shutdown", "err", err)
	}
	slog.Info("reconciler stopped cleanly")
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
