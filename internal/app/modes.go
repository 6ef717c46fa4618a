package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomredd/flasharb/internal/domain"
	"github.com/tomredd/flasharb/internal/feed"
	"github.com/tomredd/flasharb/internal/notify"
	"github.com/tomredd/flasharb/internal/orchestrator"
)

// TradeMode runs the full pipeline: the pool feed keeps the liquidity graph
// current, the scanner discovers cyclic paths, and the engine sizes, bundles,
// and submits them through the private relay.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Int("start_tokens", len(a.cfg.Graph.StartTokens)),
		slog.Int("relay_endpoints", len(a.cfg.Relay.Endpoints)),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Capacity 1: a scan against a newer snapshot supersedes anything the
	// engine has not picked up yet, so batches are dropped rather than queued.
	pathCh := make(chan []domain.ArbitragePath, 1)

	engine := orchestrator.NewEngine(
		pathCh,
		a.engineConfig(),
		deps.Relay,
		deps.Chain,
		deps.Builder,
		deps.Flash,
		deps.Graph,
		deps.Optimizer,
		deps.Publisher,
		a.logger,
	)
	if deps.ExecutionStore != nil {
		engine.SetStore(deps.ExecutionStore)
	}
	engine.SetGuards(deps.LockManager, deps.RateLimiter)

	scanner := orchestrator.NewScanner(a.scannerConfig(), deps.Graph, deps.Finder, pathCh, deps.Publisher, a.logger)
	wsFeed := feed.NewWSFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Pools, deps.Graph, a.logger)

	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})
	g.Go(func() error {
		return scanner.Run(ctx)
	})
	g.Go(func() error {
		return engine.Run(ctx)
	})

	if deps.Notifier != nil && deps.Bus != nil {
		g.Go(func() error {
			return a.notifyLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// ScanMode runs discovery without execution: the feed and scanner operate
// normally, and discovered path batches are logged instead of executed. No
// wallet or relay is required.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode",
		slog.Int("start_tokens", len(a.cfg.Graph.StartTokens)),
	)

	g, ctx := errgroup.WithContext(ctx)

	pathCh := make(chan []domain.ArbitragePath, 1)
	scanner := orchestrator.NewScanner(a.scannerConfig(), deps.Graph, deps.Finder, pathCh, deps.Publisher, a.logger)
	wsFeed := feed.NewWSFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Pools, deps.Graph, a.logger)

	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})
	g.Go(func() error {
		return scanner.Run(ctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case paths, ok := <-pathCh:
				if !ok {
					return nil
				}
				for _, p := range paths {
					a.logger.InfoContext(ctx, "arbitrage path found",
						slog.String("start_token", p.Start().Symbol),
						slog.Int("hops", p.Hops()),
						slog.Float64("yield", p.Yield),
					)
				}
			}
		}
	})

	return g.Wait()
}

// ArchiveMode is a one-shot job: it moves execution records older than the
// retention window from PostgreSQL to object storage and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	retention := a.cfg.Archive.RetentionDays
	if retention <= 0 {
		retention = 30
	}
	before := time.Now().AddDate(0, 0, -retention)

	a.logger.InfoContext(ctx, "starting archive run",
		slog.Int("retention_days", retention),
		slog.Time("before", before),
	)

	archived, err := deps.Archiver.ArchiveExecutions(ctx, before)
	if err != nil {
		return fmt.Errorf("app: archive executions: %w", err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("records", archived))
	return nil
}

// notifyLoop bridges terminal execution events from the bus to the
// configured notification channels.
func (a *App) notifyLoop(ctx context.Context, deps *Dependencies) error {
	ch, err := deps.Bus.Subscribe(ctx, domain.EventOpportunityExecuted)
	if err != nil {
		return fmt.Errorf("app: subscribe executions: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.OpportunityExecutedEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				a.logger.WarnContext(ctx, "malformed execution event",
					slog.String("error", err.Error()),
				)
				continue
			}
			title, msg := notify.FormatExecutionAlert(ev)
			if err := deps.Notifier.Notify(ctx, domain.EventOpportunityExecuted, title, msg); err != nil {
				a.logger.WarnContext(ctx, "notification failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (a *App) engineConfig() orchestrator.Config {
	return orchestrator.Config{
		MinProfitThreshold: a.cfg.Engine.MinProfitThreshold,
		MaxConcurrent:      a.cfg.Engine.MaxConcurrentExecutions,
		BlocksIntoFuture:   a.cfg.Engine.BlocksIntoFuture,
		MaxWaitBlocks:      a.cfg.Engine.MaxWaitBlocks,
		PollInterval:       a.cfg.Engine.PollInterval.Duration,
		SwapDeadline:       a.cfg.Engine.SwapDeadline.Duration,
		DefaultCapital:     a.cfg.Engine.DefaultCapital,
		Capital:            a.cfg.CapitalByAddress(),
		SubmitLimit:        a.cfg.Engine.SubmitLimit,
		SubmitWindow:       a.cfg.Engine.SubmitWindow.Duration,
	}
}

func (a *App) scannerConfig() orchestrator.ScannerConfig {
	return orchestrator.ScannerConfig{
		StartTokens: a.cfg.StartTokens(),
		MaxHops:     a.cfg.Pathfind.MaxHops,
		MaxResults:  a.cfg.Pathfind.MaxResults,
		Interval:    a.cfg.Engine.ScanInterval.Duration,
		StaleTTL:    a.cfg.Graph.StaleTTL.Duration,
	}
}
