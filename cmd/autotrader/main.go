package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/kalshibot/config"
	"github.com/alejandrodnm/kalshibot/internal/adapters/binancefeed"
	"github.com/alejandrodnm/kalshibot/internal/adapters/kalshi"
	"github.com/alejandrodnm/kalshibot/internal/application/engine"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/evaluator"
	"github.com/alejandrodnm/kalshibot/internal/executor"
	"github.com/alejandrodnm/kalshibot/internal/journal"
	"github.com/alejandrodnm/kalshibot/internal/ledger"
	"github.com/alejandrodnm/kalshibot/internal/oracle"
	"github.com/alejandrodnm/kalshibot/internal/positions"
	"github.com/alejandrodnm/kalshibot/internal/risk"
	"github.com/alejandrodnm/kalshibot/internal/scanner"
	"github.com/alejandrodnm/kalshibot/internal/settlement"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one trading cycle and exit")
	dryRun := flag.Bool("dry-run", false, "evaluate and log decisions without submitting orders")
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
	if *dryRun {
		cfg.Engine.DryRun = true
	}
	setupLogger(cfg.Log)

	slog.Info("kalshibot starting",
		"config", *configPath,
		"interval", cfg.CycleInterval(),
		"dry_run", cfg.Engine.DryRun,
		"once", *once,
	)

	eng, cleanup, err := build(cfg)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := eng.Restore(); err != nil {
		slog.Error("failed to restore state from journal", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		if _, err := eng.RunOnce(ctx); err != nil {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := eng.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("kalshibot stopped cleanly")
}

// build cablea todos los colaboradores del engine desde la configuración.
func build(cfg *config.Config) (*engine.Engine, func(), error) {
	signer, err := newSigner(cfg)
	if err != nil {
		return nil, nil, err
	}
	client := kalshi.NewClient(cfg.API.BaseURL, signer, cfg.APITimeout())
	feed := binancefeed.New(cfg.Feed.BaseURL, cfg.APITimeout())

	orc, err := oracle.New(feed, cfg.Paths.OHLCDir)
	if err != nil {
		return nil, nil, err
	}
	jrnl, err := journal.New(cfg.Paths.DataDir)
	if err != nil {
		return nil, nil, err
	}
	alerts, err := journal.NewAlertDir(cfg.Paths.AlertsDir)
	if err != nil {
		jrnl.Close()
		return nil, nil, err
	}
	led, err := ledger.Open(cfg.Paths.LedgerDSN)
	if err != nil {
		jrnl.Close()
		return nil, nil, err
	}
	cleanup := func() {
		led.Close()
		jrnl.Close()
	}

	now := time.Now().UTC()

	// Aviso temprano: liquidaciones atrasadas visibles en el ledger.
	if ids, err := led.PendingBefore(context.Background(), now); err != nil {
		slog.Warn("ledger pending check failed", "err", err)
	} else if len(ids) > 0 {
		slog.Warn("expired trades still awaiting settlement", "count", len(ids))
	}

	governor, err := risk.New(risk.Config{
		DailyLossCapCents:    cfg.Risk.DailyLossCapCents,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		Cooldown:             cfg.Cooldown(),
		DailyTradeCap:        cfg.Risk.DailyTradeCap,
		CycleTradeCap:        cfg.Risk.CycleTradeCap,
		CategoryCapCents:     cfg.Risk.CategoryCapCents,
	}, jrnl, jrnl, alerts, now)
	if err != nil {
		// Estado de riesgo corrupto: la alerta ya quedó levantada; no se
		// arranca el loop inventando un estado limpio.
		cleanup()
		return nil, nil, err
	}

	assets := make([]domain.Asset, 0, len(cfg.Trading.Assets))
	sigma := make(map[domain.Asset]float64, len(cfg.Trading.Assets))
	for _, a := range cfg.Trading.Assets {
		asset := domain.Asset(a)
		assets = append(assets, asset)
		sigma[asset] = cfg.Sigma(a)
	}

	minToExpiry := time.Duration(cfg.Trading.MinMinutesToExpiry * float64(time.Minute))
	scn := scanner.New(client, scanner.FilterConfig{
		Assets:       assets,
		ExpiryWindow: time.Duration(cfg.Engine.ExpiryWindowHours) * time.Hour,
		MinToExpiry:  minToExpiry,
		RequireDepth: true,
	})
	eval := evaluator.New(evaluator.Config{
		MinEdge:          cfg.Trading.MinEdge,
		MinRiskReward:    cfg.Trading.MinRiskReward,
		KellyFraction:    cfg.Trading.KellyFraction,
		MaxTradeFraction: cfg.Trading.MaxTradeFraction,
		MinPriceCents:    cfg.Trading.MinPriceCents,
		MaxPriceCents:    cfg.Trading.MaxPriceCents,
		MinToExpiry:      minToExpiry,
	})
	exec := executor.New(client, jrnl, led, alerts,
		func(err error) string { return string(kalshi.ClassOf(err)) },
		executor.Config{DryRun: cfg.Engine.DryRun},
	)
	posman := positions.NewManager(client, jrnl, positions.Config{
		StopLossPct:        cfg.Positions.StopLossPct,
		TrailActivationPct: cfg.Positions.TrailActivationPct,
		TrailGapCents:      cfg.Positions.TrailGapCents,
		MaxHolding:         time.Duration(cfg.Positions.MaxHoldingMinutes * float64(time.Minute)),
	})
	settle := settlement.New(orc, jrnl, led)

	eng := engine.New(engine.Config{
		CycleInterval: cfg.CycleInterval(),
		MaxWorkers:    cfg.Engine.MaxWorkers,
		DryRun:        cfg.Engine.DryRun,
		Sigma:         sigma,
		Classify:      func(err error) string { return string(kalshi.ClassOf(err)) },
	}, scn, orc, eval, governor, exec, posman, settle, client, jrnl)

	return eng, cleanup, nil
}

func newSigner(cfg *config.Config) (*kalshi.Signer, error) {
	if cfg.API.PrivateKeyPEM != "" {
		return kalshi.NewSigner(cfg.API.KeyID, []byte(cfg.API.PrivateKeyPEM))
	}
	return kalshi.NewSignerFromFile(cfg.API.KeyID, cfg.API.PrivateKeyPath)
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
