package negentropy

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
)

var (
	// ErrNotSealed is returned when a Vector is used before Seal is called.
	ErrNotSealed = errors.New("vector is not sealed")
	// ErrSealed is returned when inserting into a sealed Vector.
	ErrSealed = errors.New("vector is already sealed")
	// ErrBadRange is returned for out-of-bounds ranges.
	ErrBadRange = errors.New("bad range")
)

// DataSource is an ordered, duplicate-free sequence of items which
// can be traversed any number of times.
type DataSource interface {
	// Size returns the number of items.
	Size() int
	// Item returns the item at index i.
	Item(i int) (Item, error)
	// Iterate calls fn for each item in [begin, end) until it returns false.
	Iterate(begin, end int, fn func(it Item, i int) bool) error
	// FindLowerBound returns the index of the first item in [begin, end)
	// which is not below the bound, or end if there's no such item.
	FindLowerBound(begin, end int, b Bound) (int, error)
	// Fingerprint returns the fingerprint of the items in [begin, end).
	Fingerprint(begin, end int) (Fingerprint, error)
}

// Vector is an in-memory DataSource. Items are added with Insert, after
// which the vector must be sealed before use.
type Vector struct {
	items  []Item
	sealed bool
}

var _ DataSource = &Vector{}

// NewVector creates an empty Vector with preallocated capacity.
func NewVector(capacity int) *Vector {
	return &Vector{items: make([]Item, 0, capacity)}
}

// Insert adds an item to the vector.
func (v *Vector) Insert(timestamp uint64, id ID) error {
	if v.sealed {
		return ErrSealed
	}
	v.items = append(v.items, Item{Timestamp: timestamp, ID: id})
	return nil
}

// Seal sorts the items and removes duplicates. Calling Seal more than once
// has no effect.
func (v *Vector) Seal() {
	if v.sealed {
		return
	}
	slices.SortFunc(v.items, Item.Compare)
	v.items = slices.CompactFunc(v.items, func(a, b Item) bool { return a == b })
	v.sealed = true
}

// Sealed returns true if the vector has been sealed.
func (v *Vector) Sealed() bool {
	return v.sealed
}

// Size implements DataSource.
func (v *Vector) Size() int {
	return len(v.items)
}

func (v *Vector) checkRange(begin, end int) error {
	if !v.sealed {
		return ErrNotSealed
	}
	if begin < 0 || begin > end || end > len(v.items) {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrBadRange, begin, end, len(v.items))
	}
	return nil
}

// Item implements DataSource.
func (v *Vector) Item(i int) (Item, error) {
	if err := v.checkRange(i, i+1); err != nil {
		return Item{}, err
	}
	return v.items[i], nil
}

// Iterate implements DataSource.
func (v *Vector) Iterate(begin, end int, fn func(it Item, i int) bool) error {
	if err := v.checkRange(begin, end); err != nil {
		return err
	}
	for i := begin; i < end; i++ {
		if !fn(v.items[i], i) {
			break
		}
	}
	return nil
}

// All returns a sequence of all the items in the vector.
func (v *Vector) All() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		if !v.sealed {
			return
		}
		for _, it := range v.items {
			if !yield(it) {
				return
			}
		}
	}
}

// FindLowerBound implements DataSource.
func (v *Vector) FindLowerBound(begin, end int, b Bound) (int, error) {
	if err := v.checkRange(begin, end); err != nil {
		return 0, err
	}
	return begin + sort.Search(end-begin, func(i int) bool {
		return !below(v.items[begin+i], b)
	}), nil
}

// Fingerprint implements DataSource.
func (v *Vector) Fingerprint(begin, end int) (Fingerprint, error) {
	if err := v.checkRange(begin, end); err != nil {
		return Fingerprint{}, err
	}
	var acc accumulator
	for _, it := range v.items[begin:end] {
		acc.add(it.ID)
	}
	return acc.fingerprint(), nil
}

// below returns true if the item sorts before the bound. Bound IDs are
// zero-padded past their prefix, so a full comparison is sufficient.
func below(it Item, b Bound) bool {
	if it.Timestamp != b.Timestamp {
		return it.Timestamp < b.Timestamp
	}
	return bytes.Compare(it.ID[:], b.ID[:]) < 0
}
