package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomredd/flasharb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink collects applied updates and signals on a channel so tests
// can wait without polling.
type recordingSink struct {
	updates chan domain.PoolUpdate
	err     error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{updates: make(chan domain.PoolUpdate, 16)}
}

func (s *recordingSink) ApplyUpdate(u domain.PoolUpdate) error {
	s.updates <- u
	return s.err
}

func TestHandleMessageAppliesReserves(t *testing.T) {
	sink := newRecordingSink()
	f := NewWSFeed("ws://unused", nil, sink, testLogger())

	raw, err := json.Marshal(validReservesMessage())
	require.NoError(t, err)
	f.handleMessage(context.Background(), raw)

	select {
	case u := <-sink.updates:
		assert.Equal(t, "univ2", u.Venue)
		assert.Equal(t, uint64(19_000_000), u.BlockNumber)
	default:
		t.Fatal("expected the update to reach the sink")
	}
}

func TestHandleMessageDropsNonReserveFrames(t *testing.T) {
	sink := newRecordingSink()
	f := NewWSFeed("ws://unused", nil, sink, testLogger())

	f.handleMessage(context.Background(), []byte(`{"event":"subscribed","pools":3}`))
	f.handleMessage(context.Background(), []byte(`{"event":"heartbeat"}`))
	f.handleMessage(context.Background(), []byte(`not json at all`))

	assert.Empty(t, sink.updates)
}

func TestHandleMessageDropsMalformedReserves(t *testing.T) {
	sink := newRecordingSink()
	f := NewWSFeed("ws://unused", nil, sink, testLogger())

	msg := validReservesMessage()
	msg.Reserve0 = "not-a-number"
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	f.handleMessage(context.Background(), raw)

	assert.Empty(t, sink.updates)
}

func TestRunSubscribesAndStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeCommand, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var cmd subscribeCommand
		require.NoError(t, conn.ReadJSON(&cmd))
		subscribed <- cmd

		require.NoError(t, conn.WriteJSON(validReservesMessage()))

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	pools := []string{"0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"}
	sink := newRecordingSink()
	f := NewWSFeed(wsURL, pools, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case cmd := <-subscribed:
		assert.Equal(t, "subscribe", cmd.Op)
		assert.Equal(t, pools, cmd.Pools)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the subscribe command")
	}

	select {
	case u := <-sink.updates:
		assert.Equal(t, "univ2", u.Venue)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a pool update")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop after cancellation")
	}
}

func TestWriteMessageSerializesConcurrentWriters(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	f := NewWSFeed(wsURL, nil, newRecordingSink(), testLogger())

	// Pings and the shutdown close frame write from separate goroutines;
	// an unguarded connection panics on concurrent writes.
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := f.writeMessage(conn, websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestCloseStopsRun(t *testing.T) {
	sink := newRecordingSink()
	// Unreachable endpoint so Run sits in the reconnect loop.
	f := NewWSFeed("ws://127.0.0.1:1", nil, sink, testLogger())

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	f.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop after Close")
	}
}
