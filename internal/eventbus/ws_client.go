// Package eventbus subscribes to the trade event stream over WebSocket.
//
// Wire protocol, one JSON frame per message:
//
//	client → bus: {"op":"subscribe","topic":"trades"}
//	bus → client: {"op":"message","id":"d-1","topic":"trades","payload":{...}}
//	client → bus: {"op":"ack","id":"d-1"} | {"op":"nack","id":"d-1","error":"..."}
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame operations.
const (
	OpSubscribe = "subscribe"
	OpMessage   = "message"
	OpAck       = "ack"
	OpNack      = "nack"
)

// Frame is one protocol message in either direction.
type Frame struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Message is a payload delivered by the bus.
type Message struct {
	ID      string
	Payload []byte
}

// Config configures WebSocket client behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Buffer is the capacity of the message channel.
	Buffer int
}

// DefaultConfig returns default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            1024,
	}
}

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("eventbus: client closed")

// WSClient holds one subscription to a bus topic and re-establishes it after
// connection loss.
type WSClient struct {
	endpoint string
	topic    string
	config   Config
	logger   *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	messages chan Message

	done chan struct{}
	wg   sync.WaitGroup
}

// Dial connects to endpoint and subscribes to topic.
func Dial(ctx context.Context, endpoint, topic string, config *Config, logger *zap.Logger) (*WSClient, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClient{
		endpoint: endpoint,
		topic:    topic,
		config:   cfg,
		logger:   logger.With(zap.String("endpoint", endpoint), zap.String("topic", topic)),
		messages: make(chan Message, cfg.Buffer),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect dials and sends the subscribe frame.
func (c *WSClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(Frame{Op: OpSubscribe, Topic: c.topic}); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	return nil
}

// Messages returns the delivery channel. It is closed by Close.
func (c *WSClient) Messages() <-chan Message {
	return c.messages
}

// Ack settles a delivery: nil acknowledges it, an error asks the bus to redeliver.
func (c *WSClient) Ack(id string, cause error) error {
	f := Frame{Op: OpAck, ID: id}
	if cause != nil {
		f.Op = OpNack
		f.Error = cause.Error()
	}
	return c.write(f)
}

func (c *WSClient) write(f Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s: %w", f.Op, err)
	}
	return nil
}

// Close closes the connection and the message channel.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.messages)
	return nil
}

// readLoop reads frames and forwards message payloads.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.reconnect(reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, c.config.MaxReconnectDelay)
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("bus connection lost", zap.Error(err))
			c.connMu.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
			continue
		}

		reconnectDelay = c.config.ReconnectDelay

		if !c.handleFrame(raw) {
			return
		}
	}
}

// reconnect waits delay and redials. Returns false when the client is closed.
func (c *WSClient) reconnect(delay time.Duration) bool {
	select {
	case <-c.done:
		return false
	case <-time.After(delay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn("bus reconnect failed", zap.Duration("delay", delay), zap.Error(err))
		return true
	}
	c.logger.Info("bus reconnected")
	return true
}

// handleFrame forwards a message frame. Returns false when the client is closed.
func (c *WSClient) handleFrame(raw []byte) bool {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Warn("malformed bus frame", zap.Error(err))
		return true
	}
	if f.Op != OpMessage {
		return true
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	select {
	case c.messages <- Message{ID: f.ID, Payload: f.Payload}:
		return true
	case <-c.done:
		return false
	}
}

// pingLoop keeps the connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.connMu.Unlock()
		}
	}
}
