package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomredd/flasharb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	channel string
	payload []byte
}

// fakeBus records publishes and can be told to fail.
type fakeBus struct {
	published []published
	err       error
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published = append(b.published, published{channel, payload})
	return b.err
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

// fakeStream records stream appends and can be told to fail.
type fakeStream struct {
	appended []published
	err      error
}

func (s *fakeStream) StreamAppend(_ context.Context, stream string, payload []byte) error {
	s.appended = append(s.appended, published{stream, payload})
	return s.err
}

func testOpportunity() domain.MultiPathOpportunity {
	return domain.MultiPathOpportunity{
		ID: "opp-42",
		StartToken: domain.Token{
			Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
			Symbol:  "WETH",
		},
		Paths:          make([]domain.ArbitragePath, 3),
		Allocations:    []float64{1.5, 0, 2.5},
		ExpectedProfit: 0.12,
		Confidence:     0.9,
	}
}

func TestDiscoveredPublishesEvent(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus, nil, testLogger())

	p.Discovered(context.Background(), testOpportunity())

	require.Len(t, bus.published, 1)
	assert.Equal(t, domain.EventOpportunityDiscovered, bus.published[0].channel)

	var ev domain.OpportunityDiscoveredEvent
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &ev))
	assert.Equal(t, "opp-42", ev.OpportunityID)
	assert.Equal(t, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2").Hex(), ev.StartToken)
	assert.Equal(t, 2, ev.PathCount, "only funded paths count")
	assert.Equal(t, 0.12, ev.ExpectedProfit)
	assert.Equal(t, 0.9, ev.Confidence)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestExecutedPublishesAndAppendsToStream(t *testing.T) {
	bus := &fakeBus{}
	stream := &fakeStream{}
	p := NewPublisher(bus, stream, testLogger())

	p.Executed(context.Background(), domain.OpportunityExecutedEvent{
		OpportunityID: "opp-42",
		Status:        domain.StateIncluded,
		Profit:        0.11,
		IncludedBlock: 19_000_001,
	})

	require.Len(t, bus.published, 1)
	assert.Equal(t, domain.EventOpportunityExecuted, bus.published[0].channel)

	require.Len(t, stream.appended, 1)
	assert.Equal(t, "stream:executions", stream.appended[0].channel)
	assert.Equal(t, bus.published[0].payload, stream.appended[0].payload)

	var ev domain.OpportunityExecutedEvent
	require.NoError(t, json.Unmarshal(stream.appended[0].payload, &ev))
	assert.Equal(t, domain.StateIncluded, ev.Status)
	assert.Equal(t, uint64(19_000_001), ev.IncludedBlock)
	assert.False(t, ev.Timestamp.IsZero(), "a missing timestamp is stamped at publish")
}

func TestExecutedWithoutStream(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus, nil, testLogger())

	p.Executed(context.Background(), domain.OpportunityExecutedEvent{
		OpportunityID: "opp-42",
		Status:        domain.StateFailed,
		FailReason:    "simulation reverted",
	})

	require.Len(t, bus.published, 1)
}

func TestPublishFailuresAreSwallowed(t *testing.T) {
	bus := &fakeBus{err: errors.New("redis down")}
	stream := &fakeStream{err: errors.New("redis down")}
	p := NewPublisher(bus, stream, testLogger())

	// None of these may panic or propagate the bus error.
	p.Discovered(context.Background(), testOpportunity())
	p.Executed(context.Background(), domain.OpportunityExecutedEvent{OpportunityID: "opp-42"})
	p.GraphStats(context.Background(), 10, 20, 3)

	assert.Len(t, bus.published, 3)
	assert.Len(t, stream.appended, 1)
}

func TestGraphStatsPayload(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus, nil, testLogger())

	p.GraphStats(context.Background(), 120, 340, 12)

	require.Len(t, bus.published, 1)
	assert.Equal(t, domain.EventGraphStats, bus.published[0].channel)

	var ev domain.GraphStatsEvent
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &ev))
	assert.Equal(t, 120, ev.Nodes)
	assert.Equal(t, 340, ev.Edges)
	assert.Equal(t, 12, ev.StaleEdges)
}

func TestNopBus(t *testing.T) {
	var bus NopBus
	require.NoError(t, bus.Publish(context.Background(), "anything", []byte("x")))
	_, err := bus.Subscribe(context.Background(), "anything")
	require.Error(t, err)
}
