package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/evaluator"
	"github.com/alejandrodnm/kalshibot/internal/executor"
	"github.com/alejandrodnm/kalshibot/internal/journal"
	"github.com/alejandrodnm/kalshibot/internal/model"
	"github.com/alejandrodnm/kalshibot/internal/ports"
	"github.com/alejandrodnm/kalshibot/internal/positions"
	"github.com/alejandrodnm/kalshibot/internal/risk"
	"github.com/alejandrodnm/kalshibot/internal/scanner"
	"github.com/alejandrodnm/kalshibot/internal/settlement"
)

// Config holds configuration for the trading engine loop.
type Config struct {
	CycleInterval time.Duration
	MaxWorkers    int // parallel I/O bound per cycle
	DryRun        bool
	Sigma         map[domain.Asset]float64 // hourly log-return vol per asset
	Classify      executor.Classifier      // error → class for the api error log; nil defaults to network
}

// CycleResult contains everything produced by one trading cycle.
type CycleResult struct {
	Scanned     int
	Candidates  int
	Decisions   int
	Submitted   int
	Executed    int
	Rejected    map[string]int // governor/evaluator reason → count
	Exits       int
	Settled     int
	WonSettled  int
	BalanceUsed int
	Elapsed     time.Duration
}

// Engine orchestrates one full trading cycle: scan → value → evaluate →
// govern → execute → position sweep → settlement sweep → health snapshot.
type Engine struct {
	cfg        Config
	scanner    *scanner.Scanner
	oracle     ports.Oracle
	evaluator  *evaluator.Evaluator
	governor   *risk.Governor
	executor   *executor.Executor
	positions  *positions.Manager
	settlement *settlement.Engine
	gateway    ports.OrderGateway
	journal    *journal.Journal

	cycle     int64
	startedAt time.Time
	lastError string
}

// New wires the engine. All collaborators are owned by the caller.
func New(
	cfg Config,
	scn *scanner.Scanner,
	oracle ports.Oracle,
	eval *evaluator.Evaluator,
	governor *risk.Governor,
	exec *executor.Executor,
	posman *positions.Manager,
	settle *settlement.Engine,
	gateway ports.OrderGateway,
	jrnl *journal.Journal,
) *Engine {
	if cfg.MaxWorkers <= 0 || cfg.MaxWorkers > 8 {
		cfg.MaxWorkers = 8
	}
	return &Engine{
		cfg:        cfg,
		scanner:    scn,
		oracle:     oracle,
		evaluator:  eval,
		governor:   governor,
		executor:   exec,
		positions:  posman,
		settlement: settle,
		gateway:    gateway,
		journal:    jrnl,
		startedAt:  time.Now().UTC(),
	}
}

// Restore rebuilds in-memory state from the journal after a restart.
func (e *Engine) Restore() error {
	trades, err := e.journal.ReadTrades()
	if err != nil {
		return fmt.Errorf("engine.Restore: read trades: %w", err)
	}
	settlements, err := e.journal.ReadSettlements()
	if err != nil {
		return fmt.Errorf("engine.Restore: read settlements: %w", err)
	}
	e.settlement.Restore(trades, settlements)
	return nil
}

// Run executes cycles on a fixed interval until the context is cancelled,
// then writes a final health snapshot with running=false.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"interval", e.cfg.CycleInterval,
		"workers", e.cfg.MaxWorkers,
		"dry_run", e.cfg.DryRun,
	)

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			var authErr *executor.ErrAuth
			if errors.As(err, &authErr) {
				e.shutdown()
				return err
			}
			// Transient cycle failure: log and keep the loop alive.
			slog.Error("cycle failed", "cycle", e.cycle, "err", err)
		}

		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
		}
	}
	e.shutdown()
	return nil
}

// RunOnce executes one trading cycle.
func (e *Engine) RunOnce(ctx context.Context) (*CycleResult, error) {
	start := time.Now()
	now := start.UTC()
	e.cycle++
	result := &CycleResult{Rejected: map[string]int{}}

	// 1. Daily rollover, cooldown release, per-cycle counters.
	e.governor.BeginCycle(now)

	// 2. Bankroll. A dead balance endpoint falls back to the cached snapshot
	// so settlements and exits keep running while the API recovers.
	cash, err := e.fetchBalance(ctx)
	if err != nil {
		return result, fmt.Errorf("engine.RunOnce: balance: %w", err)
	}

	// 3. Scan open hourly markets.
	candidates, summary, err := e.scanner.Scan(ctx)
	if err != nil {
		e.lastError = err.Error()
		e.appendAPIError("scanner", "scanner.Scan", err)
		e.writeHealth(now, cash, result, summary)
		return result, fmt.Errorf("engine.RunOnce: scan: %w", err)
	}
	result.Scanned = summary.Fetched
	result.Candidates = len(candidates)

	// 4. Spot per asset, fetched in parallel. Model and evaluation are pure
	// and fast; only the spot fetch is worth fanning out.
	spots := e.fetchSpots(ctx, candidates)

	// 5. Evaluate, govern, execute. Sequential so the governor sees every
	// submit before approving the next.
	for _, q := range candidates {
		spot, ok := spots[q.Contract.Asset]
		if !ok {
			continue
		}
		sigma := e.cfg.Sigma[q.Contract.Asset]
		if sigma <= 0 {
			continue
		}

		v, err := model.Value(q.Contract, spot.price, sigma, spot.stale, now)
		if err != nil {
			slog.Warn("valuation failed", "ticker", q.Contract.Ticker, "err", err)
			continue
		}

		res := e.evaluator.Evaluate(q, v, cash, now)
		if res.Decision == nil {
			result.Rejected[res.Skip]++
			continue
		}
		result.Decisions++

		if reason := e.governor.Approve(*res.Decision, cash, now); reason != "" {
			result.Rejected[reason]++
			slog.Info("decision rejected by governor",
				"ticker", q.Contract.Ticker, "reason", reason, "edge", res.Decision.Edge)
			continue
		}

		rec, err := e.executor.Execute(ctx, *res.Decision)
		if err != nil {
			return result, fmt.Errorf("engine.RunOnce: execute: %w", err)
		}
		result.Submitted++

		// La exposición registrada es lo que cruzó, no lo pedido.
		opened := *res.Decision
		opened.Contracts = rec.FilledCount
		e.governor.RecordOpen(opened, now)

		if rec.OrderStatus == domain.OrderExecuted {
			result.Executed++
			result.BalanceUsed += rec.CostCents
			cash -= rec.CostCents
			e.positions.Open(rec)
			e.settlement.Track(rec)
		}
	}

	// 6. Position sweep: stops, trailing take-profit, time exits.
	result.Exits = e.sweepPositions(ctx, now)

	// 7. Settlement sweep feeds realized results back into risk state.
	for _, s := range e.settlement.Sweep(ctx, now) {
		result.Settled++
		if s.Won {
			result.WonSettled++
		}
		e.governor.RecordSettlement(s, time.Now().UTC())
	}

	// 8. Health + uptime snapshots.
	result.Elapsed = time.Since(start)
	e.lastError = ""
	e.writeHealth(now, cash, result, summary)

	slog.Info("cycle complete",
		"cycle", e.cycle,
		"candidates", result.Candidates,
		"submitted", result.Submitted,
		"executed", result.Executed,
		"exits", result.Exits,
		"settled", result.Settled,
		"elapsed", result.Elapsed.Round(time.Millisecond),
	)
	return result, nil
}

type spotObservation struct {
	price float64
	stale bool
}

// fetchSpots resolves the spot once per distinct asset, in parallel.
func (e *Engine) fetchSpots(ctx context.Context, candidates []domain.Quote) map[domain.Asset]spotObservation {
	assets := make(map[domain.Asset]struct{})
	for _, q := range candidates {
		assets[q.Contract.Asset] = struct{}{}
	}

	var mu sync.Mutex
	spots := make(map[domain.Asset]spotObservation, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)
	for asset := range assets {
		asset := asset
		g.Go(func() error {
			price, _, stale, err := e.oracle.Spot(gctx, asset)
			if err != nil {
				// Sin spot no se valora ese asset este ciclo; no es fatal.
				slog.Warn("spot unavailable", "asset", asset, "err", err)
				e.appendAPIError("oracle", "oracle.Spot", err)
				return nil
			}
			mu.Lock()
			spots[asset] = spotObservation{price: price, stale: stale}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return spots
}

// sweepPositions executes the exits the position manager asks for.
func (e *Engine) sweepPositions(ctx context.Context, now time.Time) int {
	exits := 0
	for _, exit := range e.positions.Sweep(ctx, now) {
		p := exit.Position
		d := domain.Decision{
			ID:           p.DecisionID + "-exit",
			Contract:     p.Contract,
			Side:         p.Side,
			PriceCents:   exit.PriceCents,
			Contracts:    p.Contracts,
			DecidedAt:    now,
			ExitOf:       string(exit.Reason),
			ExitSellSide: true,
		}

		rec, err := e.executor.Execute(ctx, d)
		if err != nil {
			slog.Error("exit order failed", "ticker", p.Contract.Ticker, "err", err)
			continue
		}
		if rec.OrderStatus != domain.OrderExecuted || rec.FilledCount == 0 {
			e.positions.Release(exit)
			continue
		}

		// El PnL realizado entra al risk state ya: un sangrado de stops debe
		// poder cruzar el cap diario sin esperar a ningún settlement.
		filled := rec.FilledCount
		e.governor.RecordExit(p.Contract.Asset, p.Contract.Expiry,
			p.EntryCents*filled, (exit.PriceCents-p.EntryCents)*filled, now)

		if filled < p.Contracts {
			// Venta parcial: el residuo queda abierto y vuelve a barrerse.
			e.positions.Reduce(exit, filled, exit.PriceCents, now)
			e.settlement.Reduce(p.DecisionID, filled)
			continue
		}
		e.positions.Confirm(exit, exit.PriceCents, now)
		e.settlement.Untrack(p.DecisionID)
		exits++
	}
	return exits
}

// appendAPIError deja el fallo en api-error-log.jsonl para el análisis de
// tasa de errores por source.
func (e *Engine) appendAPIError(source, op string, err error) {
	class := "network"
	if e.cfg.Classify != nil {
		class = e.cfg.Classify(err)
	}
	entry := ports.APIErrorEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    source,
		Class:     class,
		Operation: op,
		Message:   err.Error(),
	}
	if jerr := e.journal.AppendAPIError(entry); jerr != nil {
		slog.Error("failed to append api error", "source", source, "err", jerr)
	}
}

// fetchBalance returns available cash, preferring the venue and falling back
// to the last cached snapshot.
func (e *Engine) fetchBalance(ctx context.Context) (int, error) {
	cash, err := e.gateway.GetBalance(ctx)
	if err == nil {
		e.journal.WriteBalance(journal.BalanceSnapshot{
			BalanceCents: cash,
			FetchedAt:    time.Now().UTC(),
		})
		return cash, nil
	}

	if cached, ok := e.journal.ReadBalance(); ok {
		slog.Warn("balance fetch failed, using cached snapshot",
			"cached_cents", cached.BalanceCents,
			"age", time.Since(cached.FetchedAt).Round(time.Second),
			"err", err,
		)
		return cached.BalanceCents, nil
	}
	return 0, err
}

func (e *Engine) writeHealth(now time.Time, cash int, result *CycleResult, summary scanner.Summary) {
	state := e.governor.State()
	h := journal.HealthSnapshot{
		Timestamp:       now,
		Running:         true,
		DryRun:          e.cfg.DryRun,
		Cycle:           e.cycle,
		Phase:           state.Phase,
		BreakerActive:   state.BreakerActive,
		OpenPositions:   e.positions.Count(),
		PendingSettles:  e.settlement.PendingCount(),
		BalanceCents:    cash,
		DailyPnLCents:   state.DailyPnLCents,
		TradesToday:     state.TradesToday,
		LastCycleMs:     result.Elapsed.Milliseconds(),
		LastError:       e.lastError,
		MarketsScanned:  summary.Fetched,
		CandidatesFound: summary.Candidates,
	}
	if err := e.journal.WriteHealth(h); err != nil {
		slog.Error("health snapshot write failed", "err", err)
	}

	uptime := journal.UptimeSnapshot{
		StartedAt:     e.startedAt,
		LastHeartbeat: time.Now().UTC(),
		UptimeSeconds: time.Since(e.startedAt).Seconds(),
		Cycles:        e.cycle,
	}
	if err := e.journal.WriteUptime(uptime); err != nil {
		slog.Error("uptime snapshot write failed", "err", err)
	}
}

// shutdown leaves a truthful health snapshot behind.
func (e *Engine) shutdown() {
	state := e.governor.State()
	e.journal.WriteHealth(journal.HealthSnapshot{
		Timestamp:      time.Now().UTC(),
		Running:        false,
		DryRun:         e.cfg.DryRun,
		Cycle:          e.cycle,
		Phase:          state.Phase,
		BreakerActive:  state.BreakerActive,
		OpenPositions:  e.positions.Count(),
		PendingSettles: e.settlement.PendingCount(),
		DailyPnLCents:  state.DailyPnLCents,
		TradesToday:    state.TradesToday,
	})
	slog.Info("engine stopped", "cycles", e.cycle)
}
