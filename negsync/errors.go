package negsync

import (
	"errors"

	"github.com/nostrc/negsync/localindex"
)

var (
	// ErrConnection is returned when the relay can't be reached or the
	// connection is lost.
	ErrConnection = errors.New("relay connection failed")
	// ErrProtocol is returned when the relay sends a message that can't be
	// decoded or handled.
	ErrProtocol = errors.New("relay protocol error")
	// ErrUnsupported is returned when the relay refuses negentropy sync.
	ErrUnsupported = errors.New("negentropy not supported by relay")
	// ErrTimeout is returned when the relay doesn't respond in time.
	ErrTimeout = errors.New("relay timeout")
	// ErrCancelled is returned when the sync is cancelled.
	ErrCancelled = errors.New("sync cancelled")
	// ErrLocal is returned when the local data can't be read.
	ErrLocal = localindex.ErrLocal
)

// Error kinds as returned by KindOf.
const (
	KindConnection  = "connection"
	KindProtocol    = "protocol"
	KindUnsupported = "unsupported"
	KindTimeout     = "timeout"
	KindCancelled   = "cancelled"
	KindLocal       = "local"
	KindUnknown     = "unknown"
)

// KindOf returns the kind of the sync error, or an empty string if err
// is nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrLocal):
		return KindLocal
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrConnection):
		return KindConnection
	default:
		return KindUnknown
	}
}
