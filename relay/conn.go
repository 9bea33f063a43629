// Package relay implements the client side of the Nostr relay websocket
// protocol: a connection with state notifications, acknowledged sends and
// per-subscription mailboxes.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nostrc/negsync/nostr"
)

var (
	// ErrNotConnected is returned when sending on a connection which is not
	// established.
	ErrNotConnected = errors.New("relay is not connected")
	// ErrClosed is returned when the connection is closed while sending.
	ErrClosed = errors.New("relay connection closed")
)

// State is the state of a relay connection.
type State int

const (
	// StateConnecting means the websocket handshake is in progress.
	StateConnecting State = iota
	// StateConnected means the connection is established.
	StateConnected
	// StateClosed means the connection has failed or was closed. Connections
	// are never reestablished.
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("<unknown state %d>", int(s))
	}
}

type sendRequest struct {
	data []byte
	done chan error
}

// Mailbox receives the relay messages matched by its predicate.
type Mailbox struct {
	conn  *Conn
	match func(nostr.Envelope) bool
	ch    chan nostr.Envelope
	once  sync.Once
}

// C returns the channel the matched messages are delivered to.
func (m *Mailbox) C() <-chan nostr.Envelope {
	return m.ch
}

// Done returns a channel which is closed when the connection is closed.
func (m *Mailbox) Done() <-chan struct{} {
	return m.conn.done
}

// Release stops delivery to the mailbox. Subsequent matching messages
// are handled as unclaimed.
func (m *Mailbox) Release() {
	m.once.Do(func() {
		m.conn.mu.Lock()
		defer m.conn.mu.Unlock()
		m.conn.mailboxes = slices.DeleteFunc(m.conn.mailboxes, func(other *Mailbox) bool {
			return other == m
		})
	})
}

// MatchSub returns a predicate matching the messages carrying the
// subscription ID.
func MatchSub(sub string) func(nostr.Envelope) bool {
	return func(env nostr.Envelope) bool {
		s, ok := env.SubID()
		return ok && s == sub
	}
}

// Conn is a connection to a relay.
type Conn struct {
	url     string
	logger  *zap.Logger
	handler func(nostr.Envelope)

	mu        sync.Mutex
	state     State
	err       error
	listeners map[int]func(State)
	nextID    int
	mailboxes []*Mailbox

	sendCh    chan sendRequest
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	eg        errgroup.Group
	closeOnce sync.Once
}

func newConn(url string, logger *zap.Logger, handler func(nostr.Envelope)) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:       url,
		logger:    logger.With(zap.String("relay", url)),
		handler:   handler,
		state:     StateConnecting,
		listeners: make(map[int]func(State)),
		sendCh:    make(chan sendRequest),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// URL returns the relay URL.
func (c *Conn) URL() string {
	return c.url
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Established returns true if the connection is established.
func (c *Conn) Established() bool {
	return c.State() == StateConnected
}

// Err returns the error which caused the connection to close, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done returns a channel which is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// OnStateChange registers a callback invoked with the current state and
// then on every state change. Callbacks must not block. The returned
// function unregisters the callback.
func (c *Conn) OnStateChange(fn func(State)) (unregister func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	state := c.state
	c.mu.Unlock()
	fn(state)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Conn) setState(state State, err error) {
	c.mu.Lock()
	if c.state == state || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = state
	if err != nil && c.err == nil {
		c.err = err
	}
	listeners := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()
	if state == StateClosed {
		close(c.done)
	}
	c.logger.Debug("relay state changed", zap.Stringer("state", state), zap.Error(err))
	for _, fn := range listeners {
		fn(state)
	}
}

// Claim registers a mailbox receiving the messages matching the predicate.
// Messages are delivered to the first mailbox in claim order whose
// predicate matches. If the mailbox is full, the message is dropped.
func (c *Conn) Claim(match func(nostr.Envelope) bool, size int) *Mailbox {
	m := &Mailbox{conn: c, match: match, ch: make(chan nostr.Envelope, size)}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mailboxes = append(c.mailboxes, m)
	return m
}

// Send writes the message to the relay, returning after the frame has
// been written.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if !c.Established() {
		return ErrNotConnected
	}
	req := sendRequest{data: data, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case c.sendCh <- req:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case err := <-req.done:
		return err
	}
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.setState(StateClosed, nil)
	})
	if err := c.eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Conn) run(dialer *websocket.Dialer, readLimit int64) {
	c.eg.Go(func() error {
		ws, err := c.dial(dialer)
		if err != nil {
			dialFailures.Inc()
			c.setState(StateClosed, fmt.Errorf("dial %s: %w", c.url, err))
			return nil
		}
		ws.SetReadLimit(readLimit)
		c.setState(StateConnected, nil)
		// The connection may have been closed concurrently with the dial,
		// in which case the read loop is never started.
		select {
		case <-c.done:
			return ws.Close()
		default:
		}
		c.eg.Go(func() error {
			return c.writeLoop(ws)
		})
		c.readLoop(ws)
		return nil
	})
}

// dial runs the websocket handshake. The dialer doesn't interrupt a
// stalled upgrade when its context is canceled, so closing the connection
// expires the deadline of the underlying network connection.
func (c *Conn) dial(base *websocket.Dialer) (*websocket.Conn, error) {
	dialer := *base
	netDial := base.NetDialContext
	if netDial == nil {
		var d net.Dialer
		netDial = d.DialContext
	}
	var stop func() bool
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := netDial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		stop = context.AfterFunc(c.ctx, func() {
			_ = conn.SetDeadline(time.Now())
		})
		return conn, nil
	}
	ws, _, err := dialer.DialContext(c.ctx, c.url, nil)
	if stop != nil {
		stop()
	}
	return ws, err
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.setState(StateClosed, fmt.Errorf("read: %w", err))
			}
			return
		}
		receivedMessages.Inc()
		env, err := nostr.ParseEnvelope(data)
		if err != nil {
			c.logger.Debug("ignoring malformed relay message", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env nostr.Envelope) {
	c.mu.Lock()
	var target *Mailbox
	for _, m := range c.mailboxes {
		if m.match(env) {
			target = m
			break
		}
	}
	c.mu.Unlock()
	if target == nil {
		if c.handler != nil {
			c.handler(env)
		} else if env.Label == nostr.LabelNotice {
			msg, _ := env.String(0)
			c.logger.Info("relay notice", zap.String("message", msg))
		}
		return
	}
	select {
	case target.ch <- env:
	default:
		droppedMessages.Inc()
		c.logger.Warn("mailbox full, dropping relay message", zap.String("label", env.Label))
	}
}

func (c *Conn) writeLoop(ws *websocket.Conn) error {
	// closing the websocket also unblocks the read loop
	defer ws.Close()
	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(time.Second)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil
		case req := <-c.sendCh:
			err := ws.WriteMessage(websocket.TextMessage, req.data)
			req.done <- err
			if err != nil {
				c.setState(StateClosed, fmt.Errorf("write: %w", err))
				return nil
			}
			sentMessages.Inc()
		}
	}
}
