// Package ws implements realtime.Adapter over a single shared
// gorilla/websocket connection, grounded on the teacher's
// transport/websocket package: a mutex-guarded connection (SafeConnection),
// a dedicated read loop demultiplexing inbound frames by document id, and
// a heartbeat ping to keep the connection alive. Reconnection is left to
// the caller; a lost connection surfaces as a publish/read error.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docloom/collab-sdk/pkg/logging"
	"github.com/docloom/collab-sdk/pkg/realtime"
)

// envelope is the wire frame multiplexing document updates over one
// connection.
type envelope struct {
	DocID   string `json:"doc_id"`
	Payload string `json:"payload"` // base64
}

// Client is a realtime.Adapter backed by a single websocket connection.
type Client struct {
	writeMu sync.Mutex
	conn    *websocket.Conn

	subMu sync.RWMutex
	subs  map[string][]realtime.InboundHandler

	log    logging.Logger
	done   chan struct{}
	closed sync.Once
}

// Dial connects to url and starts the read/heartbeat loops.
func Dial(ctx context.Context, url string, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial: %w", err)
	}
	c := &Client{
		conn: conn,
		subs: make(map[string][]realtime.InboundHandler),
		log:  log,
		done: make(chan struct{}),
	}
	go c.readLoop()
	go c.heartbeatLoop(30 * time.Second)
	return c, nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Warn("realtime read loop stopped", logging.Field{Key: "error", Value: err})
			close(c.done)
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("realtime frame decode failed", logging.Field{Key: "error", Value: err})
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(env.Payload)
		if err != nil {
			c.log.Warn("realtime payload decode failed", logging.Field{Key: "error", Value: err})
			continue
		}
		c.subMu.RLock()
		handlers := append([]realtime.InboundHandler{}, c.subs[env.DocID]...)
		c.subMu.RUnlock()
		for _, h := range handlers {
			if h != nil {
				h(payload)
			}
		}
	}
}

func (c *Client) heartbeatLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warn("realtime heartbeat failed", logging.Field{Key: "error", Value: err})
			}
		case <-c.done:
			return
		}
	}
}

// Subscribe implements realtime.Adapter.
func (c *Client) Subscribe(ctx context.Context, docID string, handler realtime.InboundHandler) (realtime.Unsubscribe, error) {
	c.subMu.Lock()
	c.subs[docID] = append(c.subs[docID], handler)
	idx := len(c.subs[docID]) - 1
	c.subMu.Unlock()

	unsub := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		handlers := c.subs[docID]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
	return unsub, nil
}

// Publish implements realtime.Adapter.
func (c *Client) Publish(ctx context.Context, docID string, update []byte) error {
	env := envelope{DocID: docID, Payload: base64.StdEncoding.EncodeToString(update)}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ws: encode envelope: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	var err error
	c.closed.Do(func() {
		c.writeMu.Lock()
		err = c.conn.Close()
		c.writeMu.Unlock()
	})
	return err
}

var _ realtime.Adapter = (*Client)(nil)
