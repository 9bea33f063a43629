// Package localindex builds the local side of a negentropy reconciliation
// from the events in the local store.
package localindex

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nostrc/negsync/negentropy"
	"github.com/nostrc/negsync/nostr"
)

// ErrLocal is returned when the local data can't be read or is malformed.
var ErrLocal = errors.New("local store error")

// Build queries the source for the events of the given kinds and returns
// a sealed vector of (created_at, id) items. The vector is ordered and
// free of duplicates.
func Build(ctx context.Context, src Source, kinds []int) (*negentropy.Vector, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: no kinds specified", ErrLocal)
	}
	evs, err := src.Query(ctx, nostr.Filter{Kinds: slices.Clone(kinds)})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrLocal, err)
	}
	v := negentropy.NewVector(len(evs))
	for n := range evs {
		ev := &evs[n]
		id, err := ev.BinaryID()
		if err != nil {
			return nil, fmt.Errorf("%w: event %q: %w", ErrLocal, ev.ID, err)
		}
		if ev.CreatedAt < 0 {
			return nil, fmt.Errorf("%w: event %s: negative created_at %d",
				ErrLocal, id.ShortString(), ev.CreatedAt)
		}
		if err := v.Insert(uint64(ev.CreatedAt), negentropy.ID(id)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLocal, err)
		}
	}
	v.Seal()
	return v, nil
}
