package negentropy

import (
	"crypto/sha256"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomItems(r *rand.Rand, n int, maxTimestamp uint64) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i].Timestamp = r.Uint64N(maxTimestamp)
		for j := 0; j < IDSize; j += 8 {
			v := r.Uint64()
			for k := 0; k < 8; k++ {
				items[i].ID[j+k] = byte(v >> (8 * k))
			}
		}
	}
	return items
}

func mkVector(t *testing.T, items ...Item) *Vector {
	v := NewVector(len(items))
	for _, it := range items {
		require.NoError(t, v.Insert(it.Timestamp, it.ID))
	}
	v.Seal()
	return v
}

// reconcile runs the initiator over a against a responder over b.
func reconcile(t *testing.T, a, b DataSource, opts ...Opt) *Session {
	t.Helper()
	initiator, err := NewSession(a, opts...)
	require.NoError(t, err)
	responder, err := NewSession(b, append(opts, AsResponder())...)
	require.NoError(t, err)
	msg, err := initiator.InitialMessage()
	require.NoError(t, err)
	for len(msg) != 0 {
		require.NoError(t, responder.HandlePeerMessage(msg))
		reply := responder.NextMessage()
		require.NotEmpty(t, reply)
		require.NoError(t, initiator.HandlePeerMessage(reply))
		msg = initiator.NextMessage()
	}
	require.True(t, initiator.Done())
	return initiator
}

func idsOf(items []Item) []ID {
	ids := make([]ID, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func TestEmptyInitialMessage(t *testing.T) {
	s, err := NewSession(mkVector(t))
	require.NoError(t, err)
	msg, err := s.InitialMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{ProtocolVersion, 0x00, 0x00, modeIDList, 0x00}, msg)

	_, err = s.InitialMessage()
	require.ErrorIs(t, err, ErrBadState)
}

func TestSelfRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{0, 1, 31, 32, 100, 1000, 10000} {
		items := randomItems(r, n, 1000)
		s := reconcile(t, mkVector(t, items...), mkVector(t, items...))
		require.True(t, s.InSync(), "n=%d", n)
		require.Empty(t, s.NeedIDs())
		require.Empty(t, s.HaveIDs())
		require.False(t, s.Truncated())
		require.Equal(t, SessionStats{Rounds: 2}, s.Stats())
	}
}

func TestEmptyAgainstEmpty(t *testing.T) {
	s := reconcile(t, mkVector(t), mkVector(t))
	require.True(t, s.InSync())
	require.Equal(t, 2, s.Stats().Rounds)
}

func TestDrift(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	items := randomItems(r, 105, 1_700_000_000)
	local := mkVector(t, items[:100]...)
	remote := mkVector(t, items...)
	s := reconcile(t, local, remote)
	require.False(t, s.InSync())
	require.ElementsMatch(t, idsOf(items[100:]), s.NeedIDs())
	require.Empty(t, s.HaveIDs())
	require.Equal(t, 5, s.Stats().IDsRecv)
	require.Zero(t, s.Stats().IDsSent)
}

func TestSymmetricDifference(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	for _, tc := range []struct {
		name                 string
		common, onlyA, onlyB int
		maxTimestamp         uint64
		frameSizeLimit       int
	}{
		{name: "small", common: 10, onlyA: 3, onlyB: 4, maxTimestamp: 100},
		{name: "same timestamps", common: 500, onlyA: 20, onlyB: 30, maxTimestamp: 3},
		{name: "large", common: 20000, onlyA: 100, onlyB: 200, maxTimestamp: 1 << 32},
		{name: "one side empty", onlyB: 300, maxTimestamp: 1000},
		{name: "frame limit", common: 5000, onlyA: 1000, onlyB: 1000, maxTimestamp: 1 << 20,
			frameSizeLimit: MinFrameSizeLimit},
	} {
		t.Run(tc.name, func(t *testing.T) {
			common := randomItems(r, tc.common, tc.maxTimestamp)
			onlyA := randomItems(r, tc.onlyA, tc.maxTimestamp)
			onlyB := randomItems(r, tc.onlyB, tc.maxTimestamp)
			a := mkVector(t, append(slices.Clone(common), onlyA...)...)
			b := mkVector(t, append(slices.Clone(common), onlyB...)...)
			s := reconcile(t, a, b, WithMaxRounds(1000), WithFrameSizeLimit(tc.frameSizeLimit))
			require.ElementsMatch(t, idsOf(onlyA), s.HaveIDs())
			require.ElementsMatch(t, idsOf(onlyB), s.NeedIDs())
			require.False(t, s.Truncated())
		})
	}
}

func TestFrameSizeLimit(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 8))
	a := mkVector(t)
	b := mkVector(t, randomItems(r, 3000, 1000)...)
	initiator, err := NewSession(a, WithFrameSizeLimit(MinFrameSizeLimit), WithMaxRounds(100))
	require.NoError(t, err)
	responder, err := NewSession(b, WithFrameSizeLimit(MinFrameSizeLimit), AsResponder())
	require.NoError(t, err)
	msg, err := initiator.InitialMessage()
	require.NoError(t, err)
	for len(msg) != 0 {
		require.LessOrEqual(t, len(msg), MinFrameSizeLimit)
		require.NoError(t, responder.HandlePeerMessage(msg))
		reply := responder.NextMessage()
		require.LessOrEqual(t, len(reply), MinFrameSizeLimit)
		require.NoError(t, initiator.HandlePeerMessage(reply))
		msg = initiator.NextMessage()
	}
	require.Len(t, initiator.NeedIDs(), 3000)
	require.Greater(t, initiator.Stats().Rounds, 2)
}

func TestMaxRounds(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 10))
	items := randomItems(r, 1001, 1000)
	initiator, err := NewSession(mkVector(t, items[:1000]...), WithMaxRounds(2))
	require.NoError(t, err)
	responder, err := NewSession(mkVector(t, items...), AsResponder())
	require.NoError(t, err)
	msg, err := initiator.InitialMessage()
	require.NoError(t, err)
	require.NoError(t, responder.HandlePeerMessage(msg))
	require.NoError(t, initiator.HandlePeerMessage(responder.NextMessage()))
	require.Empty(t, initiator.NextMessage())
	require.True(t, initiator.Done())
	require.True(t, initiator.Truncated())
	require.False(t, initiator.InSync())
	require.Equal(t, 2, initiator.Stats().Rounds)

	require.ErrorIs(t, initiator.HandlePeerMessage([]byte{ProtocolVersion}), ErrBadState)
}

func TestBadPeerMessages(t *testing.T) {
	for _, tc := range []struct {
		name string
		msg  []byte
		err  error
	}{
		{name: "empty", msg: nil, err: ErrProtocol},
		{name: "bad version byte", msg: []byte{0x10}, err: ErrProtocol},
		{name: "other version", msg: []byte{0x62}, err: ErrUnsupportedVersion},
		{name: "truncated bound", msg: []byte{ProtocolVersion, 0x00}, err: ErrProtocol},
		{name: "long prefix", msg: []byte{ProtocolVersion, 0x00, 33}, err: ErrProtocol},
		{name: "bad mode", msg: []byte{ProtocolVersion, 0x00, 0x00, 0x03}, err: ErrProtocol},
		{
			name: "truncated fingerprint",
			msg:  []byte{ProtocolVersion, 0x00, 0x00, modeFingerprint, 1, 2, 3},
			err:  ErrProtocol,
		},
		{
			name: "truncated id list",
			msg:  []byte{ProtocolVersion, 0x00, 0x00, modeIDList, 0x02, 1, 2},
			err:  ErrProtocol,
		},
		{
			name: "varint overflow",
			msg: []byte{
				ProtocolVersion,
				0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f,
			},
			err: ErrProtocol,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewSession(mkVector(t))
			require.NoError(t, err)
			_, err = s.InitialMessage()
			require.NoError(t, err)
			require.ErrorIs(t, s.HandlePeerMessage(tc.msg), tc.err)
		})
	}
}

func TestResponderVersionMismatch(t *testing.T) {
	s, err := NewSession(mkVector(t), AsResponder())
	require.NoError(t, err)
	require.NoError(t, s.HandlePeerMessage([]byte{0x62, 0x00, 0x00, modeIDList, 0x00}))
	require.Equal(t, []byte{ProtocolVersion}, s.NextMessage())

	_, err = s.InitialMessage()
	require.ErrorIs(t, err, ErrBadState)
}

func TestNewSessionErrors(t *testing.T) {
	unsealed := NewVector(0)
	_, err := NewSession(unsealed)
	require.ErrorIs(t, err, ErrNotSealed)

	v := mkVector(t)
	_, err = NewSession(v, WithFrameSizeLimit(100))
	require.Error(t, err)
	_, err = NewSession(v, WithMaxRanges(1))
	require.Error(t, err)
	_, err = NewSession(v, WithMaxRanges(16), WithIDListThreshold(8))
	require.Error(t, err)
	_, err = NewSession(v, WithMaxRounds(0))
	require.Error(t, err)
}

func TestHandleBeforeInitial(t *testing.T) {
	s, err := NewSession(mkVector(t))
	require.NoError(t, err)
	require.ErrorIs(t, s.HandlePeerMessage([]byte{ProtocolVersion}), ErrBadState)
}

func TestFingerprint(t *testing.T) {
	var acc accumulator
	empty := sha256.Sum256(append(make([]byte, IDSize), 0))
	require.Equal(t, Fingerprint(empty[:FingerprintSize]), acc.fingerprint())

	var ones ID
	for i := range ones {
		ones[i] = 0xff
	}
	acc.add(ones)
	acc.add(ones)
	// (2^256 - 1) * 2 mod 2^256 = 2^256 - 2
	sum := make([]byte, IDSize, IDSize+1)
	for i := range sum {
		sum[i] = 0xff
	}
	sum[0] = 0xfe
	expected := sha256.Sum256(append(sum, 2))
	require.Equal(t, Fingerprint(expected[:FingerprintSize]), acc.fingerprint())
}

func TestVarint(t *testing.T) {
	for _, tc := range []struct {
		n       uint64
		encoded []byte
	}{
		{0, []byte{0}},
		{1, []byte{1}},
		{127, []byte{0x7f}},
		{128, []byte{0x81, 0x00}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x81, 0x80, 0x00}},
		{1<<64 - 1, []byte{0x81, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}},
	} {
		require.Equal(t, tc.encoded, appendVarint(nil, tc.n))
		r := reader{buf: tc.encoded}
		n, err := r.varint()
		require.NoError(t, err)
		require.Equal(t, tc.n, n)
		require.True(t, r.empty())
	}
}

func TestMinimalBound(t *testing.T) {
	a := Item{Timestamp: 10, ID: ID{1, 2, 3}}
	b := Item{Timestamp: 11, ID: ID{0}}
	require.Equal(t, Bound{Item: Item{Timestamp: 11}}, minimalBound(a, b))

	c := Item{Timestamp: 10, ID: ID{1, 2, 4}}
	mb := minimalBound(a, c)
	require.Equal(t, 3, mb.IDLen)
	require.Equal(t, ID{1, 2, 4}, mb.ID)
	require.False(t, below(c, mb))
	require.True(t, below(a, mb))
}
