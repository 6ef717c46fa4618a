package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tomredd/flasharb/internal/domain"
	"github.com/tomredd/flasharb/internal/events"
	"github.com/tomredd/flasharb/internal/graph"
	"github.com/tomredd/flasharb/internal/pathfind"
)

// ScannerConfig tunes the discovery loop.
type ScannerConfig struct {
	// StartTokens are the cycle anchors searched every scan.
	StartTokens []common.Address
	// MaxHops bounds cycle length.
	MaxHops int
	// MaxResults caps paths returned per start token per scan.
	MaxResults int
	// Interval is the fallback scan cadence when no graph changes arrive.
	Interval time.Duration
	// StatsInterval is the cadence for graph telemetry and stale pruning.
	StatsInterval time.Duration
	// StaleTTL is the age past which pool entries are pruned outright.
	StaleTTL time.Duration
}

func (c *ScannerConfig) defaults() {
	if c.MaxHops <= 0 {
		c.MaxHops = 4
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 8
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 30 * time.Second
	}
	if c.StaleTTL <= 0 {
		c.StaleTTL = 5 * time.Minute
	}
}

// Scanner re-runs cycle discovery whenever the graph changes (coalesced) or
// the scan interval elapses, and hands path batches to the engine. Batches
// are dropped, not queued, when the engine is busy: a scan against a newer
// snapshot supersedes anything still waiting.
type Scanner struct {
	cfg       ScannerConfig
	graph     *graph.Maintainer
	finder    *pathfind.Finder
	out       chan<- []domain.ArbitragePath
	publisher *events.Publisher
	logger    *slog.Logger
}

// NewScanner wires the discovery loop.
func NewScanner(
	cfg ScannerConfig,
	g *graph.Maintainer,
	finder *pathfind.Finder,
	out chan<- []domain.ArbitragePath,
	publisher *events.Publisher,
	logger *slog.Logger,
) *Scanner {
	cfg.defaults()
	return &Scanner{
		cfg:       cfg,
		graph:     g,
		finder:    finder,
		out:       out,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// Run scans until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("scanner started",
		slog.Int("start_tokens", len(s.cfg.StartTokens)),
		slog.Int("max_hops", s.cfg.MaxHops),
	)
	defer s.logger.Info("scanner stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	stats := time.NewTicker(s.cfg.StatsInterval)
	defer stats.Stop()

	changes := s.graph.Changes()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
			s.scan()
		case <-ticker.C:
			s.scan()
		case <-stats.C:
			pruned := s.graph.PruneStale(s.cfg.StaleTTL)
			if pruned > 0 {
				s.logger.Info("pruned stale pools", slog.Int("count", pruned))
			}
			nodes, edges, stale := s.graph.Stats()
			s.publisher.GraphStats(ctx, nodes, edges, stale)
		}
	}
}

// scan takes one snapshot and searches every start token against it.
func (s *Scanner) scan() {
	snap := s.graph.Snapshot()
	if snap.NumEdges() == 0 {
		return
	}

	var paths []domain.ArbitragePath
	for _, start := range s.cfg.StartTokens {
		found := s.finder.FindCycles(snap, start, s.cfg.MaxHops, s.cfg.MaxResults)
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return
	}

	s.logger.Debug("scan complete",
		slog.Int("paths", len(paths)),
		slog.Int("edges", snap.NumEdges()),
	)

	select {
	case s.out <- paths:
	default:
		s.logger.Debug("engine busy, dropping path batch", slog.Int("paths", len(paths)))
	}
}
