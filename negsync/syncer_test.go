package negsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nostrc/negsync/log/logtest"
	"github.com/nostrc/negsync/nostr"
	"github.com/nostrc/negsync/relay"
	"github.com/nostrc/negsync/relay/relaytest"
	"github.com/nostrc/negsync/sql"
	"github.com/nostrc/negsync/store"
)

func newStore(t *testing.T) *store.EventStore {
	t.Helper()
	db := sql.InMemory()
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	s, err := store.New(db, store.WithLogger(logtest.New(t)))
	require.NoError(t, err)
	return s
}

func addLocal(t *testing.T, s *store.EventStore, evs ...nostr.Event) {
	t.Helper()
	for _, ev := range evs {
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, s.Ingest(context.Background(), raw))
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 5 * time.Second
	cfg.ResponseTimeout = 5 * time.Second
	cfg.BatchTimeout = 5 * time.Second
	return cfg
}

func newSyncer(t *testing.T, s Store, opts ...Opt) *Syncer {
	t.Helper()
	client := relay.NewClient(relay.WithLogger(logtest.New(t)))
	return NewSyncer(s, client, append([]Opt{
		WithLogger(logtest.New(t)),
		WithConfig(testConfig()),
	}, opts...)...)
}

// silentListener accepts TCP connections but never completes the
// websocket handshake. It returns the relay URL and a function returning
// everything read from the clients.
func silentListener(t *testing.T) (string, func() string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		data  []byte
		conns []net.Conn
	)
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					mu.Lock()
					data = append(data, buf[:n]...)
					mu.Unlock()
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return "ws://" + l.Addr().String(), func() string {
		mu.Lock()
		defer mu.Unlock()
		return string(data)
	}
}

func TestSyncInSync(t *testing.T) {
	evs := relaytest.MakeEvents(1, 100)
	r := relaytest.New(t)
	r.Add(t, evs...)
	local := newStore(t)
	addLocal(t, local, evs...)

	stats, err := newSyncer(t, local).Sync(context.Background(), Target{Relay: r.URL(), Kinds: []int{1}})
	require.NoError(t, err)
	require.Equal(t, Stats{LocalCount: 100, Rounds: 2, InSync: true}, stats)
	r.WaitReceived(t, nostr.LabelNegClose, 1)
	require.Len(t, r.Received(nostr.LabelNegOpen), 1)
	require.Empty(t, r.Received(nostr.LabelReq))
}

func TestSyncDrift(t *testing.T) {
	evs := relaytest.MakeEvents(1, 105)
	r := relaytest.New(t)
	r.Add(t, evs...)
	// events of other kinds are not synced
	r.Add(t, relaytest.MakeEvents(7, 10)...)
	local := newStore(t)
	addLocal(t, local, evs[:100]...)
	syncer := newSyncer(t, local)
	target := Target{Relay: r.URL(), Kinds: []int{1}}

	stats, err := syncer.Sync(context.Background(), target)
	require.NoError(t, err)
	require.False(t, stats.InSync)
	require.EqualValues(t, 100, stats.LocalCount)
	require.EqualValues(t, 5, stats.EventsFetched)
	for _, ev := range evs[100:] {
		id, err := ev.BinaryID()
		require.NoError(t, err)
		has, err := local.Has(id)
		require.NoError(t, err)
		require.True(t, has)
	}
	n, err := local.Count(7)
	require.NoError(t, err)
	require.Zero(t, n)
	r.WaitReceived(t, nostr.LabelClose, 1)

	// the second sync finds nothing to do
	stats, err = syncer.Sync(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, Stats{LocalCount: 105, Rounds: 2, InSync: true}, stats)
}

func TestSyncFetchBatches(t *testing.T) {
	evs := relaytest.MakeEvents(1, 10)
	r := relaytest.New(t)
	r.Add(t, evs...)
	local := newStore(t)
	cfg := testConfig()
	cfg.BatchSize = 3
	cfg.FetchRate = 1000

	stats, err := newSyncer(t, local, WithConfig(cfg)).Sync(context.Background(),
		Target{Relay: r.URL(), Kinds: []int{1}})
	require.NoError(t, err)
	require.EqualValues(t, 10, stats.EventsFetched)
	reqs := r.Received(nostr.LabelReq)
	require.Len(t, reqs, 4)
	total := 0
	for _, req := range reqs {
		f, err := req.Filter(1)
		require.NoError(t, err)
		require.LessOrEqual(t, len(f.IDs), 3)
		total += len(f.IDs)
	}
	require.Equal(t, 10, total)
}

func TestSyncVerifyIDs(t *testing.T) {
	for _, verify := range []bool{true, false} {
		t.Run(fmt.Sprintf("verify=%v", verify), func(t *testing.T) {
			ev := relaytest.MakeEvent(1, 1_700_000_000, "original")
			ev.Content = "tampered"
			r := relaytest.New(t)
			r.Add(t, ev)
			cfg := testConfig()
			cfg.VerifyIDs = verify

			stats, err := newSyncer(t, newStore(t), WithConfig(cfg)).Sync(context.Background(),
				Target{Relay: r.URL(), Kinds: []int{1}})
			require.NoError(t, err)
			if verify {
				require.Zero(t, stats.EventsFetched)
			} else {
				require.EqualValues(t, 1, stats.EventsFetched)
			}
		})
	}
}

func TestSyncBatchTimeout(t *testing.T) {
	r := relaytest.New(t, relaytest.WithoutEOSE())
	r.Add(t, relaytest.MakeEvents(1, 3)...)
	cfg := testConfig()
	cfg.BatchTimeout = 100 * time.Millisecond

	stats, err := newSyncer(t, newStore(t), WithConfig(cfg)).Sync(context.Background(),
		Target{Relay: r.URL(), Kinds: []int{1}})
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.EventsFetched)
	r.WaitReceived(t, nostr.LabelClose, 1)
}

func TestSyncUnsupported(t *testing.T) {
	r := relaytest.New(t, relaytest.WithNegErr("blocked: negentropy disabled"))
	_, err := newSyncer(t, newStore(t)).Sync(context.Background(), Target{Relay: r.URL(), Kinds: []int{1}})
	require.ErrorIs(t, err, ErrUnsupported)
	require.ErrorContains(t, err, "negentropy disabled")
	require.Equal(t, KindUnsupported, KindOf(err))
}

func TestSyncProtocolError(t *testing.T) {
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := nostr.ParseEnvelope(data)
			if err != nil || env.Label != nostr.LabelNegOpen {
				continue
			}
			sub, _ := env.SubID()
			// not a negentropy message
			if err := ws.WriteMessage(websocket.TextMessage, nostr.NegMsg(sub, []byte{0x10, 0x20})); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	_, err := newSyncer(t, newStore(t)).Sync(context.Background(),
		Target{Relay: "ws" + strings.TrimPrefix(srv.URL, "http"), Kinds: []int{1}})
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, KindProtocol, KindOf(err))
}

func TestSyncHandshakeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = 100 * time.Millisecond
	url, received := silentListener(t)
	_, err := newSyncer(t, newStore(t), WithConfig(cfg)).Sync(context.Background(),
		Target{Relay: url, Kinds: []int{1}})
	require.ErrorIs(t, err, ErrConnection)
	require.NotErrorIs(t, err, ErrTimeout)
	require.Equal(t, KindConnection, KindOf(err))
	require.Eventually(t, func() bool {
		return strings.Contains(received(), "Upgrade: websocket")
	}, 5*time.Second, 10*time.Millisecond)
	require.NotContains(t, received(), nostr.LabelNegOpen)
}

func TestSyncCancelledDuringHandshake(t *testing.T) {
	// the dialer's own handshake timeout is much longer than the test
	client := relay.NewClient(relay.WithLogger(logtest.New(t)), relay.WithDialTimeout(time.Minute))
	cfg := testConfig()
	cfg.HandshakeTimeout = time.Minute
	syncer := NewSyncer(newStore(t), client, WithLogger(logtest.New(t)), WithConfig(cfg))

	url, received := silentListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := syncer.Sync(ctx, Target{Relay: url, Kinds: []int{1}})
		errc <- err
	}()
	require.Eventually(t, func() bool {
		return strings.Contains(received(), "Upgrade: websocket")
	}, 5*time.Second, 10*time.Millisecond)
	start := time.Now()
	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrCancelled)
		require.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "sync didn't return after cancellation")
	}
}

func TestSyncConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = newSyncer(t, newStore(t)).Sync(context.Background(), Target{Relay: "ws://" + addr, Kinds: []int{1}})
	require.ErrorIs(t, err, ErrConnection)
	require.Equal(t, KindConnection, KindOf(err))
}

func TestSyncResponseTimeout(t *testing.T) {
	r := relaytest.New(t, relaytest.WithIgnoreNegOpen())
	clock := clockwork.NewFakeClock()
	syncer := newSyncer(t, newStore(t), WithClock(clock))

	errc := make(chan error, 1)
	go func() {
		_, err := syncer.Sync(context.Background(), Target{Relay: r.URL(), Kinds: []int{1}})
		errc <- err
	}()
	r.WaitReceived(t, nostr.LabelNegOpen, 1)
	clock.BlockUntil(1)
	clock.Advance(syncer.Config().ResponseTimeout)
	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrTimeout)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "sync didn't time out")
	}
	r.WaitReceived(t, nostr.LabelNegClose, 1)
}

func TestSyncCancelled(t *testing.T) {
	// every other event is missing locally, so the exchange takes more
	// than one NEG-MSG and the relay stops replying after NEG-OPEN
	evs := relaytest.MakeEvents(1, 2000)
	r := relaytest.New(t, relaytest.WithStallAfter(0))
	r.Add(t, evs...)
	local := newStore(t)
	for i := 0; i < len(evs); i += 2 {
		addLocal(t, local, evs[i])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := newSyncer(t, local).Sync(ctx, Target{Relay: r.URL(), Kinds: []int{1}})
		errc <- err
	}()
	// waiting for the reply of round 3
	r.WaitReceived(t, nostr.LabelNegMsg, 1)
	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrCancelled)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "sync wasn't cancelled")
	}
	r.WaitReceived(t, nostr.LabelNegClose, 1)
	require.Empty(t, r.Received(nostr.LabelReq))
}

func TestSyncCancelledBeforeStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSyncer(NewMockStore(ctrl), NewMockTransport(ctrl)).Sync(ctx, Target{Relay: "ws://x", Kinds: []int{1}})
	require.ErrorIs(t, err, ErrCancelled)
}

func TestSyncLocalError(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := NewMockStore(ctrl)
	errDisk := errors.New("disk failure")
	st.EXPECT().Query(gomock.Any(), nostr.Filter{Kinds: []int{1, 3}}).Return(nil, errDisk)
	// no connection is made
	tr := NewMockTransport(ctrl)

	_, err := NewSyncer(st, tr).Sync(context.Background(), Target{Relay: "ws://x", Kinds: []int{1, 3}})
	require.ErrorIs(t, err, ErrLocal)
	require.ErrorIs(t, err, errDisk)
	require.Equal(t, KindLocal, KindOf(err))
}

func TestSyncTransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := NewMockStore(ctrl)
	st.EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, nil)
	tr := NewMockTransport(ctrl)
	tr.EXPECT().Connect(gomock.Any(), "ws://x").Return(nil, errors.New("no route"))

	_, err := NewSyncer(st, tr).Sync(context.Background(), Target{Relay: "ws://x", Kinds: []int{1}})
	require.ErrorIs(t, err, ErrConnection)
}

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		kind string
	}{
		{nil, ""},
		{fmt.Errorf("%w: x", ErrConnection), KindConnection},
		{fmt.Errorf("%w: x", ErrProtocol), KindProtocol},
		{fmt.Errorf("%w: x", ErrUnsupported), KindUnsupported},
		{fmt.Errorf("%w: x", ErrTimeout), KindTimeout},
		{fmt.Errorf("%w: %w", ErrCancelled, context.Canceled), KindCancelled},
		{fmt.Errorf("%w: x", ErrLocal), KindLocal},
		{errors.Join(ErrConnection, ErrCancelled), KindCancelled},
		{errors.New("other"), KindUnknown},
	} {
		require.Equal(t, tc.kind, KindOf(tc.err), "%v", tc.err)
	}
}
