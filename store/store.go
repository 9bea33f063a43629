// Package store is the local event store backed by sqlite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/nostrc/negsync/nostr"
	"github.com/nostrc/negsync/sql"
	"github.com/nostrc/negsync/sql/events"
)

// DefaultCacheSize is the default number of recently seen event IDs
// kept in memory.
const DefaultCacheSize = 10000

// ErrInvalidEvent is returned by Ingest for events that can't be stored.
var ErrInvalidEvent = errors.New("invalid event")

// Opt is an option for EventStore.
type Opt func(*EventStore)

// WithLogger specifies the logger for the store.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *EventStore) {
		s.logger = logger
	}
}

// WithCacheSize sets the number of recently seen event IDs kept in memory.
func WithCacheSize(size int) Opt {
	return func(s *EventStore) {
		s.cacheSize = size
	}
}

// WithClock sets the clock used to timestamp received events.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *EventStore) {
		s.clock = clock
	}
}

// EventStore stores Nostr events.
type EventStore struct {
	db        *sql.Database
	logger    *zap.Logger
	clock     clockwork.Clock
	cacheSize int
	known     *lru.Cache[nostr.ID, struct{}]
}

// New creates an EventStore on top of the database.
func New(db *sql.Database, opts ...Opt) (*EventStore, error) {
	s := &EventStore{
		db:        db,
		logger:    zap.NewNop(),
		clock:     clockwork.NewRealClock(),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	known, err := lru.New[nostr.ID, struct{}](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create id cache: %w", err)
	}
	s.known = known
	return s, nil
}

// Query returns the stored events matching the filter, ordered by
// (created_at, id). All events are read from one consistent snapshot.
func (s *EventStore) Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	var (
		result []nostr.Event
		decErr error
	)
	if err := s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		return events.Query(tx, filter, func(raw []byte) bool {
			var ev nostr.Event
			if decErr = json.Unmarshal(raw, &ev); decErr != nil {
				return false
			}
			result = append(result, ev)
			return true
		})
	}); err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, fmt.Errorf("decode stored event: %w", decErr)
	}
	queriedEvents.Observe(float64(len(result)))
	return result, nil
}

// Ingest stores an event given its raw JSON encoding. Events that are
// already stored are ignored.
func (s *EventStore) Ingest(ctx context.Context, raw []byte) error {
	var ev nostr.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		ingested.WithLabelValues(resultInvalid).Inc()
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	id, err := ev.BinaryID()
	if err != nil {
		ingested.WithLabelValues(resultInvalid).Inc()
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if s.known.Contains(id) {
		ingested.WithLabelValues(resultDuplicate).Inc()
		return nil
	}
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return events.Add(tx, &ev, raw, s.clock.Now())
	})
	switch {
	case errors.Is(err, sql.ErrObjectExists):
		ingested.WithLabelValues(resultDuplicate).Inc()
	case err != nil:
		ingested.WithLabelValues(resultFailed).Inc()
		return err
	default:
		ingested.WithLabelValues(resultAdded).Inc()
		s.logger.Debug("event stored",
			zap.String("id", id.ShortString()),
			zap.Int("kind", ev.Kind),
		)
	}
	s.known.Add(id, struct{}{})
	return nil
}

// Has returns true if the event is stored.
func (s *EventStore) Has(id nostr.ID) (bool, error) {
	if s.known.Contains(id) {
		return true, nil
	}
	has, err := events.Has(s.db, id)
	if err != nil {
		return false, err
	}
	if has {
		s.known.Add(id, struct{}{})
	}
	return has, nil
}

// Count returns the number of stored events of the given kinds.
func (s *EventStore) Count(kinds ...int) (int, error) {
	return events.Count(s.db, kinds...)
}
