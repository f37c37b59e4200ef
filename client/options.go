package client

import (
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBuffer sets how many undelivered messages are held before new ones
// are dropped. The default is 64.
func WithBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithReconnect enables automatic reconnection with the given parameters.
func WithReconnect(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.reconnect = true
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}
