package localindex

import (
	"context"

	"github.com/nostrc/negsync/nostr"
)

//go:generate mockgen -typed -package=localindex -destination=./mocks.go -source=./interface.go

// Source is the local event store queried for the events to reconcile.
type Source interface {
	Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)
}
