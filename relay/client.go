package relay

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nostrc/negsync/nostr"
)

// DefaultReadLimit is the default max size of a relay message.
const DefaultReadLimit = 16 << 20

// ClientOpt is an option for Client.
type ClientOpt func(*Client)

// WithLogger specifies the logger for the client.
func WithLogger(logger *zap.Logger) ClientOpt {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialTimeout limits the duration of the websocket handshake.
// Zero means no limit besides closing the connection.
func WithDialTimeout(timeout time.Duration) ClientOpt {
	return func(c *Client) {
		c.dialer.HandshakeTimeout = timeout
	}
}

// WithReadLimit sets the max size of a relay message.
func WithReadLimit(limit int64) ClientOpt {
	return func(c *Client) {
		c.readLimit = limit
	}
}

// WithUnclaimedHandler sets the handler for the messages not matched by
// any mailbox. It is invoked on the read loop goroutine and must not block.
func WithUnclaimedHandler(handler func(url string, env nostr.Envelope)) ClientOpt {
	return func(c *Client) {
		c.handler = handler
	}
}

// Client creates relay connections.
type Client struct {
	logger    *zap.Logger
	dialer    *websocket.Dialer
	readLimit int64
	handler   func(url string, env nostr.Envelope)
}

// NewClient creates a new Client.
func NewClient(opts ...ClientOpt) *Client {
	c := &Client{
		logger: zap.NewNop(),
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		},
		readLimit: DefaultReadLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect starts connecting to the relay. The returned connection is in
// StateConnecting; use OnStateChange to learn when it is established.
// Connections are never reestablished after they're closed.
func (c *Client) Connect(ctx context.Context, relayURL string) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("bad relay url %q: %w", relayURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bad relay url %q: unsupported scheme", relayURL)
	}
	var handler func(nostr.Envelope)
	if c.handler != nil {
		handler = func(env nostr.Envelope) { c.handler(relayURL, env) }
	}
	conn := newConn(relayURL, c.logger, handler)
	conn.run(c.dialer, c.readLimit)
	return conn, nil
}
