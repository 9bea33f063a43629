// Package nostr contains the subset of the Nostr data model used by the sync
// subsystem: events, filters and relay message envelopes.
package nostr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/minio/sha256-simd"
)

// IDSize is the size of an event ID in bytes.
const IDSize = 32

// ErrBadID is returned when an event ID is not a 64 character hex string.
var ErrBadID = errors.New("bad event id")

// ID is a binary event ID.
type ID [IDSize]byte

// String implements fmt.Stringer.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns the first 5 bytes of the ID in hex, for logging.
func (id ID) ShortString() string {
	return hex.EncodeToString(id[:5])
}

// ParseID decodes a 64 character hex event ID.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != 2*IDSize {
		return id, fmt.Errorf("%w: length %d", ErrBadID, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrBadID, err)
	}
	return id, nil
}

// MustParseID is like ParseID but panics on error. It is intended for tests.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Event is a Nostr event as described in NIP-01.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize returns the canonical serialization of the event that is hashed
// to obtain its ID: [0, pubkey, created_at, kind, tags, content].
func (e *Event) Serialize() []byte {
	var b strings.Builder
	b.WriteString(`[0,"`)
	b.WriteString(e.PubKey)
	b.WriteString(`",`)
	b.WriteString(strconv.FormatInt(e.CreatedAt, 10))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(e.Kind))
	b.WriteString(`,[`)
	for n, tag := range e.Tags {
		if n > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		for m, v := range tag {
			if m > 0 {
				b.WriteByte(',')
			}
			writeEscaped(&b, v)
		}
		b.WriteByte(']')
	}
	b.WriteString(`],`)
	writeEscaped(&b, e.Content)
	b.WriteByte(']')
	return []byte(b.String())
}

// ComputeID returns the hash of the canonical serialization of the event.
func (e *Event) ComputeID() ID {
	return ID(sha256.Sum256(e.Serialize()))
}

// SetID computes the event ID from the content and stores it in the ID field.
func (e *Event) SetID() {
	e.ID = e.ComputeID().String()
}

// CheckID returns true if the ID field matches the event content.
func (e *Event) CheckID() bool {
	id, err := ParseID(e.ID)
	if err != nil {
		return false
	}
	return id == e.ComputeID()
}

// BinaryID returns the decoded ID of the event.
func (e *Event) BinaryID() (ID, error) {
	return ParseID(e.ID)
}

func writeEscaped(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteString(s[i : i+size])
			}
		}
		i += size
	}
	b.WriteByte('"')
}
