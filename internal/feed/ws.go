// Package feed streams pool reserve updates from external pool adapters
// into the liquidity graph over WebSocket.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomredd/flasharb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Sink consumes validated pool updates. Implemented by the graph maintainer.
type Sink interface {
	ApplyUpdate(u domain.PoolUpdate) error
}

// WSFeed connects to a pool adapter's WebSocket endpoint, subscribes to
// reserve updates for the configured pools, and applies each update to the
// sink. It reconnects with exponential backoff on disconnect.
type WSFeed struct {
	wsURL     string
	pools     []string // hex pool addresses; empty means all
	sink      Sink
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}

	// writeMu serializes connection writes: the ping loop and the
	// shutdown close frame run on separate goroutines, and the websocket
	// package forbids concurrent writers.
	writeMu sync.Mutex
}

// writeMessage performs one deadline-bounded, mutex-guarded write.
func (f *WSFeed) writeMessage(conn *websocket.Conn, messageType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}

// NewWSFeed creates a feed for the given adapter endpoint. An empty pools
// list subscribes to everything the adapter tracks.
func NewWSFeed(wsURL string, pools []string, sink Sink, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:  wsURL,
		pools:  pools,
		sink:   sink,
		logger: logger.With(slog.String("component", "pool_feed")),
		done:   make(chan struct{}),
	}
}

// Run connects, subscribes, and consumes updates until ctx is cancelled.
// Each disconnect is retried with exponential backoff.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		start := time.Now()
		err := f.runConnection(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that survived a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			delay = reconnectDelay
		}
		f.logger.Warn("pool feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// runConnection performs one dial-subscribe-consume cycle. It returns when
// the connection drops or the context is cancelled.
func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("pool feed subscribed",
		slog.String("url", f.wsURL),
		slog.Int("pools", len(f.pools)),
	)

	// Close the connection when ctx ends so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		_ = f.writeMessage(
			conn,
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = conn.Close()
	}()
	go f.pingLoop(conn, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(ctx, raw)
	}
}

func (f *WSFeed) subscribe(conn *websocket.Conn) error {
	cmd := subscribeCommand{Op: "subscribe", Pools: f.pools}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	if err := f.writeMessage(conn, websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

// pingLoop sends periodic pings to keep the connection alive.
func (f *WSFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := f.writeMessage(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one raw frame and applies reserve updates to the
// sink. Non-reserve frames (acks, heartbeats) are dropped silently;
// malformed updates are logged and dropped.
func (f *WSFeed) handleMessage(ctx context.Context, raw []byte) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.Event != "reserves" {
		return
	}

	var msg reservesMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Warn("unparseable reserve update", slog.String("error", err.Error()))
		return
	}
	update, err := msg.toPoolUpdate(time.Now().UTC())
	if err != nil {
		f.logger.Warn("malformed reserve update",
			slog.String("pool", msg.Pool),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := f.sink.ApplyUpdate(update); err != nil {
		f.logger.WarnContext(ctx, "update rejected",
			slog.String("pool", update.Address.Hex()),
			slog.String("error", err.Error()),
		)
	}
}
