// Package relaytest provides an in-process Nostr relay supporting
// negentropy sync and REQ subscriptions, for use in tests.
package relaytest

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nostrc/negsync/negentropy"
	"github.com/nostrc/negsync/nostr"
)

// Opt is an option for Relay.
type Opt func(*Relay)

// WithNegErr makes the relay reply to NEG-OPEN with NEG-ERR.
func WithNegErr(reason string) Opt {
	return func(r *Relay) {
		r.negErr = reason
	}
}

// WithIgnoreNegOpen makes the relay never reply to NEG-OPEN.
func WithIgnoreNegOpen() Opt {
	return func(r *Relay) {
		r.ignoreNegOpen = true
	}
}

// WithStallAfter makes the relay stop replying to NEG-MSG after n replies.
// With n = 0 the relay answers NEG-OPEN but no NEG-MSG.
func WithStallAfter(n int) Opt {
	return func(r *Relay) {
		r.stallAfter = n
	}
}

// WithoutEOSE makes the relay never send EOSE for REQ subscriptions.
func WithoutEOSE() Opt {
	return func(r *Relay) {
		r.noEOSE = true
	}
}

// WithFrameSizeLimit sets the frame size limit of relay negentropy sessions.
func WithFrameSizeLimit(limit int) Opt {
	return func(r *Relay) {
		r.frameSizeLimit = limit
	}
}

// WithLogger specifies the logger for the relay.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Relay) {
		r.logger = logger
	}
}

type stored struct {
	ev  nostr.Event
	raw json.RawMessage
}

// Relay is a fake relay serving websocket connections.
type Relay struct {
	logger         *zap.Logger
	negErr         string
	ignoreNegOpen  bool
	stallAfter     int
	noEOSE         bool
	frameSizeLimit int

	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	events   map[nostr.ID]stored
	received []nostr.Envelope
	negMsgs  int
}

// New starts a new relay which is stopped when the test finishes.
func New(tb testing.TB, opts ...Opt) *Relay {
	r := &Relay{
		logger:     zap.NewNop(),
		events:     make(map[nostr.ID]stored),
		stallAfter: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	tb.Cleanup(r.srv.Close)
	return r
}

// URL returns the websocket URL of the relay.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// Add adds events to the relay.
func (r *Relay) Add(tb testing.TB, evs ...nostr.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range evs {
		id, err := ev.BinaryID()
		require.NoError(tb, err)
		raw, err := json.Marshal(ev)
		require.NoError(tb, err)
		r.events[id] = stored{ev: ev, raw: raw}
	}
}

// Received returns the messages with the label received by the relay.
func (r *Relay) Received(label string) []nostr.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var envs []nostr.Envelope
	for _, env := range r.received {
		if env.Label == label {
			envs = append(envs, env)
		}
	}
	return envs
}

// WaitReceived waits until the relay receives at least n messages with
// the label.
func (r *Relay) WaitReceived(tb testing.TB, label string, n int) {
	require.Eventually(tb, func() bool {
		return len(r.Received(label)) >= n
	}, 5*time.Second, 10*time.Millisecond, "waiting for %d %s", n, label)
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	sessions := make(map[string]*negentropy.Session)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := nostr.ParseEnvelope(data)
		if err != nil {
			r.send(ws, nostr.Notice("bad message: "+err.Error()))
			continue
		}
		r.mu.Lock()
		r.received = append(r.received, env)
		r.mu.Unlock()
		sub, _ := env.SubID()
		switch env.Label {
		case nostr.LabelNegOpen:
			r.negOpen(ws, sessions, sub, env)
		case nostr.LabelNegMsg:
			r.negMsg(ws, sessions, sub, env)
		case nostr.LabelNegClose:
			delete(sessions, sub)
		case nostr.LabelReq:
			r.req(ws, sub, env)
		}
	}
}

func (r *Relay) send(ws *websocket.Conn, msg []byte) {
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		r.logger.Debug("write failed", zap.Error(err))
	}
}

func (r *Relay) negOpen(ws *websocket.Conn, sessions map[string]*negentropy.Session, sub string, env nostr.Envelope) {
	switch {
	case r.ignoreNegOpen:
		return
	case r.negErr != "":
		r.send(ws, nostr.NegErr(sub, r.negErr))
		return
	}
	filter, err := env.Filter(1)
	if err != nil {
		r.send(ws, nostr.NegErr(sub, "error: "+err.Error()))
		return
	}
	msg, err := env.Hex(2)
	if err != nil {
		r.send(ws, nostr.NegErr(sub, "error: "+err.Error()))
		return
	}
	v := negentropy.NewVector(0)
	r.mu.Lock()
	for id, s := range r.events {
		if filter.Matches(&s.ev) {
			_ = v.Insert(uint64(s.ev.CreatedAt), negentropy.ID(id))
		}
	}
	r.mu.Unlock()
	v.Seal()
	session, err := negentropy.NewSession(v,
		negentropy.AsResponder(), negentropy.WithFrameSizeLimit(r.frameSizeLimit))
	if err != nil {
		r.send(ws, nostr.NegErr(sub, "error: "+err.Error()))
		return
	}
	sessions[sub] = session
	r.reply(ws, session, sub, msg)
}

func (r *Relay) negMsg(ws *websocket.Conn, sessions map[string]*negentropy.Session, sub string, env nostr.Envelope) {
	session, found := sessions[sub]
	if !found {
		r.send(ws, nostr.NegErr(sub, "closed: unknown subscription"))
		return
	}
	msg, err := env.Hex(1)
	if err != nil {
		r.send(ws, nostr.NegErr(sub, "error: "+err.Error()))
		return
	}
	r.mu.Lock()
	r.negMsgs++
	stall := r.stallAfter >= 0 && r.negMsgs > r.stallAfter
	r.mu.Unlock()
	if stall {
		return
	}
	r.reply(ws, session, sub, msg)
}

func (r *Relay) reply(ws *websocket.Conn, session *negentropy.Session, sub string, msg []byte) {
	if err := session.HandlePeerMessage(msg); err != nil {
		r.send(ws, nostr.NegErr(sub, "error: "+err.Error()))
		return
	}
	r.send(ws, nostr.NegMsg(sub, session.NextMessage()))
}

func (r *Relay) req(ws *websocket.Conn, sub string, env nostr.Envelope) {
	var filters []nostr.Filter
	for n := 1; n < len(env.Args); n++ {
		f, err := env.Filter(n)
		if err != nil {
			r.send(ws, nostr.Closed(sub, "error: "+err.Error()))
			return
		}
		filters = append(filters, f)
	}
	r.mu.Lock()
	var matched []stored
	for _, s := range r.events {
		for _, f := range filters {
			if f.Matches(&s.ev) {
				matched = append(matched, s)
				break
			}
		}
	}
	r.mu.Unlock()
	slices.SortFunc(matched, func(a, b stored) int {
		return cmp.Compare(b.ev.CreatedAt, a.ev.CreatedAt)
	})
	for _, s := range matched {
		r.send(ws, nostr.SubEvent(sub, s.raw))
	}
	if !r.noEOSE {
		r.send(ws, nostr.EOSE(sub))
	}
}

// MakeEvent returns an event with a valid ID.
func MakeEvent(kind int, createdAt int64, content string) nostr.Event {
	ev := nostr.Event{
		PubKey:    strings.Repeat("5a", 32),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      [][]string{},
		Content:   content,
	}
	ev.SetID()
	return ev
}

// MakeEvents returns n distinct events of the kind.
func MakeEvents(kind, n int) []nostr.Event {
	evs := make([]nostr.Event, n)
	for i := range evs {
		evs[i] = MakeEvent(kind, int64(1_700_000_000+i), fmt.Sprintf("event %d of kind %d", i, kind))
	}
	return evs
}
