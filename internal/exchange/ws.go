// ws.go implements the market-data WebSocket book feed.
//
// One connection subscribes to v1.book.s snapshots for every configured
// instrument and republishes them on a channel the engine drains into the
// book cache. The feed auto-reconnects with exponential backoff (1s → 30s
// max) and re-subscribes on reconnection. A read deadline ensures silent
// server failures are detected within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"grvt-hedge/pkg/types"
)

const (
	bookStream = "v1.book.s" // snapshot book stream

	// bookRateMS is the snapshot cadence requested in the selector,
	// e.g. "BTC_USDT_Perp@500-10" asks for 500ms snapshots at depth 10.
	bookRateMS = 500

	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	snapshotBuffer   = 256              // buffer for book snapshots
)

// BookFeed maintains the market-data WebSocket connection and fans book
// snapshots out to the engine. Selectors are fixed at construction; the
// engine never subscribes mid-run.
type BookFeed struct {
	url       string
	selectors []string

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	snapshots chan types.OrderbookSnapshot
	logger    *logrus.Entry
}

// NewBookFeed creates a feed for the given instruments at the given depth.
func NewBookFeed(wsURL string, instruments []string, depth int, logger *logrus.Logger) *BookFeed {
	selectors := make([]string, len(instruments))
	for i, inst := range instruments {
		selectors[i] = fmt.Sprintf("%s@%d-%d", inst, bookRateMS, depth)
	}
	return &BookFeed{
		url:       wsURL,
		selectors: selectors,
		snapshots: make(chan types.OrderbookSnapshot, snapshotBuffer),
		logger:    logger.WithField("component", "ws_book"),
	}
}

// Snapshots returns a read-only channel of book snapshots.
func (f *BookFeed) Snapshots() <-chan types.OrderbookSnapshot { return f.snapshots }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *BookFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		started := time.Now()
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that survived a while earns a fresh backoff.
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}

		f.logger.WithFields(logrus.Fields{
			"error":   err,
			"backoff": backoff.String(),
		}).Warn("websocket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *BookFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *BookFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.WithField("selectors", len(f.selectors)).Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if the server goes silent.
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *BookFeed) subscribe() error {
	return f.writeJSON(types.WSRequest{
		JSONRPC: "2.0",
		Method:  "subscribe",
		Params: types.WSParams{
			Stream:    bookStream,
			Selectors: f.selectors,
		},
		ID: 1,
	})
}

func (f *BookFeed) dispatchMessage(data []byte) {
	// Peek at the stream field to separate feed frames from RPC acks.
	var envelope struct {
		Stream string `json:"stream"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.WithField("data", string(data)).Debug("ignoring non-json ws message")
		return
	}
	if envelope.Stream == "" {
		// Subscribe ack or server notice.
		f.logger.WithField("data", string(data)).Debug("ws control message")
		return
	}
	if envelope.Stream != bookStream {
		f.logger.WithField("stream", envelope.Stream).Debug("ignoring unexpected stream")
		return
	}

	var frame types.WSBookFeed
	if err := json.Unmarshal(data, &frame); err != nil {
		f.logger.WithError(err).Error("unmarshal book frame")
		return
	}

	select {
	case f.snapshots <- frame.Feed:
	default:
		f.logger.WithField("instrument", frame.Feed.Instrument).Warn("book channel full, dropping snapshot")
	}
}

func (f *BookFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writePing(); err != nil {
				f.logger.WithError(err).Warn("ping failed")
				return
			}
		}
	}
}

func (f *BookFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *BookFeed) writePing() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}
