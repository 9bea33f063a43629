package negentropy

import (
	"errors"
	"fmt"
)

// ErrProtocol is returned for malformed peer messages.
var ErrProtocol = errors.New("negentropy protocol error")

// ErrUnsupportedVersion is returned when the peer uses another protocol version.
var ErrUnsupportedVersion = fmt.Errorf("%w: unsupported protocol version", ErrProtocol)

// appendVarint appends n as a base-128 big-endian varint where every byte
// except the last one has the high bit set.
func appendVarint(b []byte, n uint64) []byte {
	if n == 0 {
		return append(b, 0)
	}
	var tmp [10]byte
	i := len(tmp)
	for n != 0 {
		i--
		tmp[i] = byte(n & 0x7f)
		n >>= 7
	}
	for j := i; j < len(tmp)-1; j++ {
		tmp[j] |= 0x80
	}
	return append(b, tmp[i:]...)
}

// reader decodes a peer message.
type reader struct {
	buf []byte
}

func (r *reader) empty() bool {
	return len(r.buf) == 0
}

func (r *reader) byte() (byte, error) {
	if len(r.buf) == 0 {
		return 0, fmt.Errorf("%w: unexpected end of message", ErrProtocol)
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > len(r.buf) {
		return nil, fmt.Errorf("%w: unexpected end of message", ErrProtocol)
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b, nil
}

func (r *reader) varint() (uint64, error) {
	var n uint64
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		if n > (1<<64-1)>>7 {
			return 0, fmt.Errorf("%w: varint overflow", ErrProtocol)
		}
		n = n<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return n, nil
		}
	}
}
