package domain

import (
	"context"
	"time"
)

// Event channel names consumed by the dashboard subsystem. The engine only
// publishes; it has no dependency on the consumers.
const (
	EventOpportunityDiscovered = "opportunity_discovered"
	EventOpportunityExecuted   = "opportunity_executed"
	EventGraphStats            = "graph_stats"
)

// OpportunityDiscoveredEvent announces a freshly sized opportunity entering
// the execution pipeline.
type OpportunityDiscoveredEvent struct {
	OpportunityID  string    `json:"opportunity_id"`
	StartToken     string    `json:"start_token"`
	PathCount      int       `json:"path_count"`
	ExpectedProfit float64   `json:"expected_profit"`
	Confidence     float64   `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
}

// OpportunityExecutedEvent announces a terminal pipeline state.
type OpportunityExecutedEvent struct {
	OpportunityID string           `json:"opportunity_id"`
	Status        OpportunityState `json:"status"`
	Profit        float64          `json:"profit"`
	FailReason    string           `json:"fail_reason,omitempty"`
	IncludedBlock uint64           `json:"included_block,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// GraphStatsEvent is a periodic snapshot of liquidity-graph size.
type GraphStatsEvent struct {
	Nodes      int       `json:"nodes"`
	Edges      int       `json:"edges"`
	StaleEdges int       `json:"stale_edges"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventBus publishes raw payloads on named channels. Implemented over Redis
// Pub/Sub; a no-op implementation is used when no sink is configured.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
