package scheduler

import (
	"context"

	"github.com/nostrc/negsync/negsync"
)

//go:generate mockgen -typed -package=scheduler -destination=./mocks.go -source=./interface.go

// Syncer runs a sync with one relay.
type Syncer interface {
	Sync(ctx context.Context, target negsync.Target) (negsync.Stats, error)
}
