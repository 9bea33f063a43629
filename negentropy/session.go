// Package negentropy implements version 1 of the negentropy range-based set
// reconciliation protocol as used by Nostr relays (NIP-77).
package negentropy

import (
	"errors"
	"fmt"
	"math"
)

// ProtocolVersion is the only supported protocol version.
const ProtocolVersion = 0x61

const (
	modeSkip        = 0
	modeFingerprint = 1
	modeIDList      = 2
)

const (
	// DefaultMaxRanges is the default number of buckets a range is split into.
	DefaultMaxRanges = 16
	// DefaultMaxRounds is the default limit on the number of exchange rounds.
	DefaultMaxRounds = 8
	// MinFrameSizeLimit is the smallest frame size limit that can be set.
	MinFrameSizeLimit = 4096

	frameSizeMargin = 200
)

// ErrBadState is returned when a Session method is called out of order.
var ErrBadState = errors.New("bad session state")

// Opt is an option for Session.
type Opt func(*Session)

// WithMaxRanges sets the number of buckets a mismatched range is split into.
func WithMaxRanges(n int) Opt {
	return func(s *Session) {
		s.maxRanges = n
	}
}

// WithIDListThreshold sets the size of a range below which its IDs are
// sent directly instead of fingerprints of its sub-ranges.
// The default is twice the max number of ranges.
func WithIDListThreshold(n int) Opt {
	return func(s *Session) {
		s.idListThreshold = n
	}
}

// WithFrameSizeLimit limits the size of outgoing messages. Zero means no
// limit.
func WithFrameSizeLimit(n int) Opt {
	return func(s *Session) {
		s.frameSizeLimit = n
	}
}

// WithMaxRounds sets the max number of rounds after which the initiator
// stops reconciliation even if it has not converged.
func WithMaxRounds(n int) Opt {
	return func(s *Session) {
		s.maxRounds = n
	}
}

// AsResponder makes the session answer the messages of an initiator
// instead of starting the reconciliation.
func AsResponder() Opt {
	return func(s *Session) {
		s.initiator = false
	}
}

// SessionStats contains the counters of a Session.
type SessionStats struct {
	// Rounds is the number of messages built or handled by the session.
	Rounds int
	// IDsSent is the number of IDs the local side has and the peer lacks.
	IDsSent int
	// IDsRecv is the number of IDs the peer has and the local side lacks.
	IDsRecv int
}

// Session is a single reconciliation of a local data source against a peer.
// Sessions are not reusable and not safe for concurrent use.
type Session struct {
	src             DataSource
	maxRanges       int
	idListThreshold int
	frameSizeLimit  int
	maxRounds       int
	initiator       bool

	started          bool
	done             bool
	truncated        bool
	pending          []byte
	lastTimestampIn  uint64
	lastTimestampOut uint64
	have, need       []ID
	rounds           int
}

// NewSession creates a new Session for the data source. The data source must
// be fully constructed (sealed) and must not change during the session.
func NewSession(src DataSource, opts ...Opt) (*Session, error) {
	s := &Session{
		src:       src,
		maxRanges: DefaultMaxRanges,
		maxRounds: DefaultMaxRounds,
		initiator: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idListThreshold == 0 {
		s.idListThreshold = 2 * s.maxRanges
	}
	switch {
	case s.maxRanges < 2:
		return nil, fmt.Errorf("max ranges must be at least 2, got %d", s.maxRanges)
	case s.idListThreshold < s.maxRanges:
		return nil, fmt.Errorf("id list threshold %d is below max ranges %d",
			s.idListThreshold, s.maxRanges)
	case s.frameSizeLimit != 0 && s.frameSizeLimit < MinFrameSizeLimit:
		return nil, fmt.Errorf("frame size limit must be 0 or at least %d, got %d",
			MinFrameSizeLimit, s.frameSizeLimit)
	case s.maxRounds < 1:
		return nil, fmt.Errorf("max rounds must be positive, got %d", s.maxRounds)
	}
	// make sure the whole source can be traversed before anything is sent
	if _, err := src.Fingerprint(0, src.Size()); err != nil {
		return nil, fmt.Errorf("data source: %w", err)
	}
	return s, nil
}

// InitialMessage builds the first message of the initiator.
func (s *Session) InitialMessage() ([]byte, error) {
	if !s.initiator {
		return nil, fmt.Errorf("%w: responder can't initiate", ErrBadState)
	}
	if s.started {
		return nil, fmt.Errorf("%w: already initiated", ErrBadState)
	}
	s.started = true
	s.lastTimestampOut = 0
	out := []byte{ProtocolVersion}
	out, err := s.splitRange(out, 0, s.src.Size(), InfinityBound())
	if err != nil {
		return nil, err
	}
	s.rounds = 1
	return out, nil
}

// HandlePeerMessage processes a message received from the peer. For the
// initiator, it accumulates have/need IDs and prepares the next message,
// if any. For the responder, it prepares the reply.
func (s *Session) HandlePeerMessage(msg []byte) error {
	if s.initiator {
		if !s.started {
			return fmt.Errorf("%w: initial message not built", ErrBadState)
		}
		if s.done {
			return fmt.Errorf("%w: reconciliation concluded", ErrBadState)
		}
	}
	out, err := s.reconcile(msg)
	if err != nil {
		return err
	}
	s.rounds++
	switch {
	case !s.initiator:
		s.pending = out
	case len(out) == 1:
		s.done = true
		s.pending = nil
	case s.rounds >= s.maxRounds:
		s.done = true
		s.truncated = true
		s.pending = nil
	default:
		s.pending = out
	}
	return nil
}

// NextMessage returns the message to be sent to the peer. For the
// initiator, an empty result means the reconciliation has concluded.
func (s *Session) NextMessage() []byte {
	out := s.pending
	s.pending = nil
	return out
}

// Done returns true if the initiator has concluded the reconciliation.
func (s *Session) Done() bool {
	return s.done
}

// Truncated returns true if the reconciliation was stopped because the
// round limit was reached before convergence.
func (s *Session) Truncated() bool {
	return s.truncated
}

// NeedIDs returns IDs that the peer has and the local side lacks.
func (s *Session) NeedIDs() []ID {
	return s.need
}

// HaveIDs returns IDs that the local side has and the peer lacks.
func (s *Session) HaveIDs() []ID {
	return s.have
}

// Stats returns the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Rounds:  s.rounds,
		IDsSent: len(s.have),
		IDsRecv: len(s.need),
	}
}

// InSync returns true if the sets were found identical on the first
// exchange.
func (s *Session) InSync() bool {
	st := s.Stats()
	return st.IDsSent == 0 && st.IDsRecv == 0 && st.Rounds <= 2
}

func (s *Session) reconcile(msg []byte) ([]byte, error) {
	s.lastTimestampIn = 0
	s.lastTimestampOut = 0
	r := reader{buf: msg}
	v, err := r.byte()
	if err != nil {
		return nil, err
	}
	if v&0xf0 != 0x60 {
		return nil, fmt.Errorf("%w: invalid version byte 0x%02x", ErrProtocol, v)
	}
	out := []byte{ProtocolVersion}
	if v != ProtocolVersion {
		if s.initiator {
			return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedVersion, v)
		}
		// let the initiator know which version is supported
		return out, nil
	}

	size := s.src.Size()
	prevIndex := 0
	prevBound := Bound{}
	skip := false
	for !r.empty() {
		var o []byte
		lastOut, lastSkip := s.lastTimestampOut, skip
		doSkip := func() {
			if skip {
				skip = false
				o = s.appendBound(o, prevBound)
				o = appendVarint(o, modeSkip)
			}
		}
		currBound, err := s.readBound(&r)
		if err != nil {
			return nil, err
		}
		mode, err := r.varint()
		if err != nil {
			return nil, err
		}
		lower := prevIndex
		upper, err := s.src.FindLowerBound(prevIndex, size, currBound)
		if err != nil {
			return nil, err
		}
		full := false
		switch mode {
		case modeSkip:
			skip = true
		case modeFingerprint:
			b, err := r.bytes(FingerprintSize)
			if err != nil {
				return nil, err
			}
			ours, err := s.src.Fingerprint(lower, upper)
			if err != nil {
				return nil, err
			}
			if Fingerprint(b) == ours {
				skip = true
				break
			}
			doSkip()
			if o, err = s.splitRange(o, lower, upper, currBound); err != nil {
				return nil, err
			}
		case modeIDList:
			theirs, err := readIDs(&r)
			if err != nil {
				return nil, err
			}
			if s.initiator {
				skip = true
				if err := s.src.Iterate(lower, upper, func(it Item, _ int) bool {
					if _, found := theirs[it.ID]; found {
						delete(theirs, it.ID)
					} else {
						s.have = append(s.have, it.ID)
					}
					return true
				}); err != nil {
					return nil, err
				}
				for id := range theirs {
					s.need = append(s.need, id)
				}
				break
			}
			doSkip()
			var ids []byte
			n := 0
			endBound := currBound
			if err := s.src.Iterate(lower, upper, func(it Item, i int) bool {
				if s.frameSizeLimit > 0 &&
					len(out)+len(o)+len(ids) > s.frameSizeLimit-frameSizeMargin {
					endBound = ItemBound(it)
					upper = i
					full = true
					return false
				}
				ids = append(ids, it.ID[:]...)
				n++
				return true
			}); err != nil {
				return nil, err
			}
			o = s.appendBound(o, endBound)
			o = appendVarint(o, modeIDList)
			o = appendVarint(o, uint64(n))
			o = append(o, ids...)
		default:
			return nil, fmt.Errorf("%w: unexpected mode %d", ErrProtocol, mode)
		}

		if !full && s.frameSizeLimit > 0 && len(out)+len(o) > s.frameSizeLimit-frameSizeMargin {
			// no room left: summarize everything from the previous bound on
			o = nil
			s.lastTimestampOut, skip = lastOut, lastSkip
			doSkip()
			upper = lower
			full = true
		}
		out = append(out, o...)
		if full {
			fp, err := s.src.Fingerprint(upper, size)
			if err != nil {
				return nil, err
			}
			out = s.appendBound(out, InfinityBound())
			out = appendVarint(out, modeFingerprint)
			out = append(out, fp[:]...)
			break
		}
		prevIndex = upper
		prevBound = currBound
	}
	return out, nil
}

func (s *Session) splitRange(o []byte, lower, upper int, upperBound Bound) ([]byte, error) {
	n := upper - lower
	if n < s.idListThreshold {
		o = s.appendBound(o, upperBound)
		o = appendVarint(o, modeIDList)
		o = appendVarint(o, uint64(n))
		if err := s.src.Iterate(lower, upper, func(it Item, _ int) bool {
			o = append(o, it.ID[:]...)
			return true
		}); err != nil {
			return nil, err
		}
		return o, nil
	}

	perBucket := n / s.maxRanges
	withExtra := n % s.maxRanges
	curr := lower
	for i := 0; i < s.maxRanges; i++ {
		bucketSize := perBucket
		if i < withExtra {
			bucketSize++
		}
		fp, err := s.src.Fingerprint(curr, curr+bucketSize)
		if err != nil {
			return nil, err
		}
		curr += bucketSize
		nextBound := upperBound
		if curr != upper {
			prev, err := s.src.Item(curr - 1)
			if err != nil {
				return nil, err
			}
			next, err := s.src.Item(curr)
			if err != nil {
				return nil, err
			}
			nextBound = minimalBound(prev, next)
		}
		o = s.appendBound(o, nextBound)
		o = appendVarint(o, modeFingerprint)
		o = append(o, fp[:]...)
	}
	return o, nil
}

func (s *Session) appendBound(o []byte, b Bound) []byte {
	o = s.appendTimestamp(o, b.Timestamp)
	o = appendVarint(o, uint64(b.IDLen))
	return append(o, b.ID[:b.IDLen]...)
}

func (s *Session) appendTimestamp(o []byte, ts uint64) []byte {
	if ts == math.MaxUint64 {
		s.lastTimestampOut = math.MaxUint64
		return appendVarint(o, 0)
	}
	delta := ts - s.lastTimestampOut
	s.lastTimestampOut = ts
	return appendVarint(o, delta+1)
}

func (s *Session) readBound(r *reader) (Bound, error) {
	ts, err := s.readTimestamp(r)
	if err != nil {
		return Bound{}, err
	}
	l, err := r.varint()
	if err != nil {
		return Bound{}, err
	}
	if l > IDSize {
		return Bound{}, fmt.Errorf("%w: bound prefix too long: %d", ErrProtocol, l)
	}
	prefix, err := r.bytes(int(l))
	if err != nil {
		return Bound{}, err
	}
	b := Bound{Item: Item{Timestamp: ts}, IDLen: int(l)}
	copy(b.ID[:], prefix)
	return b, nil
}

func (s *Session) readTimestamp(r *reader) (uint64, error) {
	ts, err := r.varint()
	if err != nil {
		return 0, err
	}
	if ts == 0 || s.lastTimestampIn == math.MaxUint64 {
		s.lastTimestampIn = math.MaxUint64
		return math.MaxUint64, nil
	}
	ts--
	if ts > math.MaxUint64-1-s.lastTimestampIn {
		return 0, fmt.Errorf("%w: timestamp overflow", ErrProtocol)
	}
	ts += s.lastTimestampIn
	s.lastTimestampIn = ts
	return ts, nil
}

func readIDs(r *reader) (map[ID]struct{}, error) {
	n, err := r.varint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)/IDSize) {
		return nil, fmt.Errorf("%w: id list too long: %d", ErrProtocol, n)
	}
	ids := make(map[ID]struct{}, n)
	for range n {
		b, err := r.bytes(IDSize)
		if err != nil {
			return nil, err
		}
		ids[ID(b)] = struct{}{}
	}
	return ids, nil
}
