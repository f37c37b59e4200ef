// Package client subscribes to push notifications from a notifier hub.
//
// Usage:
//
//	c, err := client.Dial("wss://api.example.com/api/v1/push/ws", "user-42",
//	    client.WithReconnect(5, time.Second),
//	)
//	defer c.Close()
//
//	for msg := range c.Messages() {
//	    fmt.Printf("%s: %s\n", msg.ID, msg.Message)
//	}
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/notifier/channel/push"
)

// maxReconnectDelay caps the exponential reconnect delay.
const maxReconnectDelay = 30 * time.Second

// ErrEmptyRecipient is returned by Dial when no recipient is given.
var ErrEmptyRecipient = errors.New("client: recipient is required")

// Client holds a WebSocket open to a push hub and exposes the frames it
// receives as push.Message values.
type Client struct {
	url       string
	recipient string
	logger    *slog.Logger
	buffer    int

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state.
	conn   net.Conn
	mu     sync.Mutex
	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}

	messages chan *push.Message
	dropped  atomic.Int64
}

// Dial connects to the hub at rawURL as recipient.
func Dial(rawURL, recipient string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), rawURL, recipient, opts...)
}

// DialContext connects to the hub with a context bounding the handshake.
func DialContext(ctx context.Context, rawURL, recipient string, opts ...Option) (*Client, error) {
	if recipient == "" {
		return nil, ErrEmptyRecipient
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	q := u.Query()
	q.Set("recipient", recipient)
	u.RawQuery = q.Encode()

	c := &Client{
		url:        u.String(),
		recipient:  recipient,
		logger:     slog.Default(),
		buffer:     64,
		maxRetries: 5,
		baseDelay:  time.Second,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.messages = make(chan *push.Message, c.buffer)

	go c.run(conn)
	return c, nil
}

// Messages returns the stream of received notifications. It is closed
// after Close, or when the connection is lost and cannot be restored.
func (c *Client) Messages() <-chan *push.Message {
	return c.messages
}

// Recipient returns the recipient this client subscribed as.
func (c *Client) Recipient() string { return c.recipient }

// Dropped reports how many messages were discarded because the buffer
// was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Close disconnects and waits for the read loop to exit.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.stop)

	c.mu.Lock()
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.mu.Unlock()

	<-c.done
	return err
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", c.url, err)
	}
	return conn, nil
}

// run owns the messages channel. It reads from conn until it breaks, then
// reconnects when enabled.
func (c *Client) run(conn net.Conn) {
	defer close(c.done)
	defer close(c.messages)

	for {
		c.readLoop(conn)
		if c.closed.Load() || !c.reconnect {
			return
		}
		next, ok := c.tryReconnect()
		if !ok {
			return
		}
		conn = next
	}
}

// readLoop decodes server frames until a read fails.
func (c *Client) readLoop(conn net.Conn) {
	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("client: read error",
					slog.String("recipient", c.recipient),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		msg, err := decode(data, op)
		if err != nil {
			c.logger.Warn("client: decode error", slog.String("error", err.Error()))
			continue
		}

		select {
		case c.messages <- msg:
		default:
			c.dropped.Add(1)
			c.logger.Warn("client: buffer full, dropping message", slog.String("id", msg.ID))
		}
	}
}

// decode picks the codec from the frame opcode: text frames carry JSON,
// binary frames carry msgpack.
func decode(data []byte, op ws.OpCode) (*push.Message, error) {
	var msg push.Message
	switch op {
	case ws.OpText:
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
	case ws.OpBinary:
		if err := msgpack.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("msgpack: %w", err)
		}
	default:
		return nil, fmt.Errorf("unexpected opcode %v", op)
	}
	return &msg, nil
}

// tryReconnect redials with exponential backoff. It gives up after
// maxRetries attempts or when the client is closed.
func (c *Client) tryReconnect() (net.Conn, bool) {
	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		select {
		case <-c.stop:
			return nil, false
		case <-time.After(delay):
		}

		c.logger.Info("client: reconnecting",
			slog.String("recipient", c.recipient),
			slog.Int("attempt", attempt),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.mu.Lock()
			if c.closed.Load() {
				c.mu.Unlock()
				_ = conn.Close()
				return nil, false
			}
			c.conn = conn
			c.mu.Unlock()
			c.logger.Info("client: reconnected", slog.String("recipient", c.recipient))
			return conn, true
		}

		c.logger.Warn("client: reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}

	c.logger.Error("client: max reconnect attempts reached", slog.String("recipient", c.recipient))
	return nil, false
}
