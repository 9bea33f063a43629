package negsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/nostrc/negsync/negentropy"
	"github.com/nostrc/negsync/nostr"
	"github.com/nostrc/negsync/relay"
)

// closeTimeout bounds sending the CLOSE / NEG-CLOSE messages, which is
// done even if the sync is cancelled.
const closeTimeout = 5 * time.Second

type phase int

const (
	phaseInit phase = iota
	phaseConnecting
	phaseHandshaking
	phaseOpen
	phaseExchange
	phaseClosing
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseInit:
		return "init"
	case phaseConnecting:
		return "connecting"
	case phaseHandshaking:
		return "handshaking"
	case phaseOpen:
		return "open"
	case phaseExchange:
		return "exchange"
	case phaseClosing:
		return "closing"
	case phaseDone:
		return "done"
	default:
		return fmt.Sprintf("<unknown phase %d>", int(p))
	}
}

// transcript drives the NEG-OPEN / NEG-MSG / NEG-CLOSE exchange with one
// relay on behalf of a negentropy session.
type transcript struct {
	logger  *zap.Logger
	cfg     *Config
	clock   clockwork.Clock
	conn    *relay.Conn
	session *negentropy.Session
	kinds   []int
	phase   phase
}

func (t *transcript) setPhase(p phase) {
	t.logger.Debug("negentropy phase", zap.Stringer("from", t.phase), zap.Stringer("to", p))
	t.phase = p
}

func (t *transcript) run(ctx context.Context) error {
	t.setPhase(phaseConnecting)
	if err := waitEstablished(ctx, t.clock, t.conn, t.cfg.HandshakeTimeout); err != nil {
		return err
	}
	t.setPhase(phaseHandshaking)
	sub := "neg-" + uuid.NewString()
	mb := t.conn.Claim(relay.MatchSub(sub), t.cfg.MailboxSize)
	defer mb.Release()
	defer func() {
		t.setPhase(phaseClosing)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := t.conn.Send(closeCtx, nostr.NegClose(sub)); cerr != nil {
			t.logger.Debug("failed to send NEG-CLOSE", zap.Error(cerr))
		}
		t.setPhase(phaseDone)
	}()

	msg, err := t.session.InitialMessage()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocal, err)
	}
	if err := t.send(ctx, nostr.NegOpen(sub, nostr.Filter{Kinds: t.kinds}, msg)); err != nil {
		return err
	}
	t.setPhase(phaseOpen)
	for {
		reply, err := t.receive(ctx, mb)
		if err != nil {
			return err
		}
		t.setPhase(phaseExchange)
		if err := t.session.HandlePeerMessage(reply); err != nil {
			if errors.Is(err, negentropy.ErrUnsupportedVersion) {
				return fmt.Errorf("%w: %w", ErrUnsupported, err)
			}
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		next := t.session.NextMessage()
		if len(next) == 0 {
			return nil
		}
		if err := t.send(ctx, nostr.NegMsg(sub, next)); err != nil {
			return err
		}
	}
}

func (t *transcript) send(ctx context.Context, msg []byte) error {
	if err := t.conn.Send(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return fmt.Errorf("%w: send: %w", ErrConnection, err)
	}
	return nil
}

// receive waits for the next NEG-MSG reply of the relay.
func (t *transcript) receive(ctx context.Context, mb *relay.Mailbox) ([]byte, error) {
	timer := t.clock.NewTimer(t.cfg.ResponseTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-timer.Chan():
			return nil, fmt.Errorf("%w: no reply in %v", ErrTimeout, t.cfg.ResponseTimeout)
		case <-mb.Done():
			return nil, fmt.Errorf("%w: %w", ErrConnection, connErr(t.conn))
		case env := <-mb.C():
			switch env.Label {
			case nostr.LabelNegMsg:
				msg, err := env.Hex(1)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
				}
				return msg, nil
			case nostr.LabelNegErr, nostr.LabelClosed:
				reason, _ := env.String(1)
				return nil, fmt.Errorf("%w: %s", ErrUnsupported, reason)
			default:
				t.logger.Debug("ignoring relay message", zap.String("label", env.Label))
			}
		}
	}
}

// waitEstablished waits for the connection to be established, relying on
// state notifications of the connection.
func waitEstablished(ctx context.Context, clock clockwork.Clock, conn *relay.Conn, timeout time.Duration) error {
	states := make(chan relay.State, 4)
	unregister := conn.OnStateChange(func(st relay.State) {
		select {
		case states <- st:
		default:
		}
	})
	defer unregister()
	timer := clock.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-timer.Chan():
			// failing to establish is a connection error, unlike a reply timeout
			return fmt.Errorf("%w: handshake not completed in %v", ErrConnection, timeout)
		case st := <-states:
			switch st {
			case relay.StateConnected:
				return nil
			case relay.StateClosed:
				return fmt.Errorf("%w: %w", ErrConnection, connErr(conn))
			}
		}
	}
}

func connErr(conn *relay.Conn) error {
	if err := conn.Err(); err != nil {
		return err
	}
	return errors.New("connection closed")
}
