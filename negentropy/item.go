package negentropy

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"math"

	"go.uber.org/zap/zapcore"
)

// IDSize is the size of item IDs in bytes.
const IDSize = 32

// ID is an item (event) ID.
type ID [IDSize]byte

// String implements fmt.Stringer.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns an abbreviated hex form of the ID for logging.
func (id ID) ShortString() string {
	return hex.EncodeToString(id[:5])
}

// Item represents one element of a reconcilable set.
type Item struct {
	Timestamp uint64
	ID        ID
}

var _ zapcore.ObjectMarshaler = Item{}

// Compare orders items by timestamp, then by ID.
func (it Item) Compare(other Item) int {
	if c := cmp.Compare(it.Timestamp, other.Timestamp); c != 0 {
		return c
	}
	return bytes.Compare(it.ID[:], other.ID[:])
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (it Item) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("timestamp", it.Timestamp)
	enc.AddString("id", it.ID.ShortString())
	return nil
}

// Bound is a range boundary: a timestamp plus an ID prefix. The prefix
// is zero-padded in ID, with IDLen meaningful bytes.
type Bound struct {
	Item
	IDLen int
}

// InfinityBound is the upper bound of the whole set.
func InfinityBound() Bound {
	return Bound{Item: Item{Timestamp: math.MaxUint64}}
}

// ItemBound returns the bound exactly matching the item.
func ItemBound(it Item) Bound {
	return Bound{Item: it, IDLen: IDSize}
}

// IsInfinity returns true if the bound is the upper bound of the whole set.
func (b Bound) IsInfinity() bool {
	return b.Timestamp == math.MaxUint64
}

// minimalBound returns the shortest bound that separates prev from curr.
func minimalBound(prev, curr Item) Bound {
	if curr.Timestamp != prev.Timestamp {
		return Bound{Item: Item{Timestamp: curr.Timestamp}}
	}
	shared := 0
	for shared < IDSize && curr.ID[shared] == prev.ID[shared] {
		shared++
	}
	b := Bound{Item: Item{Timestamp: curr.Timestamp}, IDLen: shared + 1}
	copy(b.ID[:shared+1], curr.ID[:shared+1])
	return b
}
