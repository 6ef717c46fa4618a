// Package events publishes engine telemetry onto the event bus so
// dashboards and alerting can consume it without touching the hot path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tomredd/flasharb/internal/domain"
)

// executionStream is the durable log of terminal executions. Pub/Sub
// delivery is fire-and-forget; the stream keeps a trimmed history for
// consumers that reconnect.
const executionStream = "stream:executions"

// Publisher marshals typed engine events and publishes them. Publish
// failures are logged, never propagated: telemetry must not stall or
// fail an execution.
type Publisher struct {
	bus    domain.EventBus
	stream domain.StreamAppender
	logger *slog.Logger
}

// NewPublisher creates a Publisher over the given bus. stream may be nil
// when no durable sink is configured.
func NewPublisher(bus domain.EventBus, stream domain.StreamAppender, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:    bus,
		stream: stream,
		logger: logger.With(slog.String("component", "events")),
	}
}

// Discovered announces an opportunity entering the pipeline.
func (p *Publisher) Discovered(ctx context.Context, opp domain.MultiPathOpportunity) {
	active, _ := opp.ActivePaths()
	ev := domain.OpportunityDiscoveredEvent{
		OpportunityID:  opp.ID,
		StartToken:     opp.StartToken.Address.Hex(),
		PathCount:      len(active),
		ExpectedProfit: opp.ExpectedProfit,
		Confidence:     opp.Confidence,
		Timestamp:      time.Now().UTC(),
	}
	p.publish(ctx, domain.EventOpportunityDiscovered, ev)
}

// Executed announces a terminal pipeline state and appends it to the
// durable execution stream.
func (p *Publisher) Executed(ctx context.Context, ev domain.OpportunityExecutedEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload := p.publish(ctx, domain.EventOpportunityExecuted, ev)
	if p.stream == nil || payload == nil {
		return
	}
	if err := p.stream.StreamAppend(ctx, executionStream, payload); err != nil {
		p.logger.WarnContext(ctx, "stream append failed",
			slog.String("stream", executionStream),
			slog.String("error", err.Error()),
		)
	}
}

// GraphStats publishes a periodic liquidity-graph size snapshot.
func (p *Publisher) GraphStats(ctx context.Context, nodes, edges, stale int) {
	ev := domain.GraphStatsEvent{
		Nodes:      nodes,
		Edges:      edges,
		StaleEdges: stale,
		Timestamp:  time.Now().UTC(),
	}
	p.publish(ctx, domain.EventGraphStats, ev)
}

func (p *Publisher) publish(ctx context.Context, channel string, ev any) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.WarnContext(ctx, "event marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		p.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	return payload
}

// NopBus is an EventBus that drops everything. It backs deployments with
// no Redis configured.
type NopBus struct{}

// Publish discards the payload.
func (NopBus) Publish(context.Context, string, []byte) error { return nil }

// Subscribe returns an error: there is nothing to subscribe to.
func (NopBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, fmt.Errorf("events: nop bus has no subscriptions")
}

var _ domain.EventBus = NopBus{}
