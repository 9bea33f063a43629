package negsync

import (
	"context"

	"github.com/nostrc/negsync/nostr"
	"github.com/nostrc/negsync/relay"
)

//go:generate mockgen -typed -package=negsync -destination=./mocks.go -source=./interface.go

// Store is the local event store.
type Store interface {
	Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)
	Ingest(ctx context.Context, raw []byte) error
}

// Transport creates relay connections.
type Transport interface {
	Connect(ctx context.Context, url string) (*relay.Conn, error)
}
