// Package negsync syncs the local event store with Nostr relays using
// negentropy set reconciliation, fetching the events the store lacks.
package negsync

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/nostrc/negsync/localindex"
	"github.com/nostrc/negsync/negentropy"
)

// Stats summarizes a sync with one relay.
type Stats struct {
	// LocalCount is the number of local events of the synced kinds.
	LocalCount uint32 `json:"local_count"`
	// Rounds is the number of reconciliation rounds.
	Rounds uint32 `json:"rounds"`
	// EventsFetched is the number of events fetched and stored.
	EventsFetched uint32 `json:"events_fetched"`
	// InSync is true if the relay had the same events as the local store.
	InSync bool `json:"in_sync"`
}

// Opt is an option for Syncer.
type Opt func(*Syncer)

// WithLogger specifies the logger for the Syncer.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// WithConfig specifies the sync configuration.
func WithConfig(cfg Config) Opt {
	return func(s *Syncer) {
		s.cfg = cfg
	}
}

// WithClock specifies the clock used for timeouts.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *Syncer) {
		s.clock = clock
	}
}

// Syncer syncs the local store with relays.
type Syncer struct {
	logger    *zap.Logger
	cfg       Config
	clock     clockwork.Clock
	store     Store
	transport Transport
}

// NewSyncer creates a new Syncer.
func NewSyncer(store Store, transport Transport, opts ...Opt) *Syncer {
	s := &Syncer{
		logger:    zap.NewNop(),
		cfg:       DefaultConfig(),
		clock:     clockwork.NewRealClock(),
		store:     store,
		transport: transport,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the sync configuration.
func (s *Syncer) Config() Config {
	return s.cfg
}

// Sync reconciles the local events of the target kinds with the relay and
// fetches the events missing locally. If the sync is cancelled, the stats
// collected so far are returned along with an error wrapping ErrCancelled.
func (s *Syncer) Sync(ctx context.Context, target Target) (stats Stats, err error) {
	logger := s.logger.With(zap.String("relay", target.Relay), zap.Ints("kinds", target.Kinds))
	start := s.clock.Now()
	defer func() {
		kind := KindOf(err)
		if kind == "" {
			kind = "ok"
		}
		syncAttempts.WithLabelValues(kind).Inc()
		syncDuration.WithLabelValues(kind).Observe(s.clock.Since(start).Seconds())
	}()

	if ctx.Err() != nil {
		return stats, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	items, err := localindex.Build(ctx, s.store, target.Kinds)
	if err != nil {
		return stats, err
	}
	stats.LocalCount = uint32(items.Size())
	session, err := negentropy.NewSession(items,
		negentropy.WithMaxRounds(s.cfg.MaxRounds),
		negentropy.WithMaxRanges(s.cfg.MaxRanges),
		negentropy.WithFrameSizeLimit(s.cfg.FrameSizeLimit),
	)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrLocal, err)
	}
	logger.Debug("local index built", zap.Uint32("count", stats.LocalCount))

	conn, err := s.transport.Connect(ctx, target.Relay)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer conn.Close()

	t := &transcript{
		logger:  logger,
		cfg:     &s.cfg,
		clock:   s.clock,
		conn:    conn,
		session: session,
		kinds:   target.Kinds,
	}
	err = t.run(ctx)
	stats.Rounds = uint32(session.Stats().Rounds)
	if err != nil {
		return stats, err
	}
	if session.Truncated() {
		logger.Warn("reconciliation stopped at round limit", zap.Int("rounds", s.cfg.MaxRounds))
	}
	stats.InSync = session.InSync()
	rounds.Observe(float64(stats.Rounds))

	need := session.NeedIDs()
	logger.Debug("reconciliation done",
		zap.Uint32("rounds", stats.Rounds),
		zap.Int("need", len(need)),
		zap.Int("have", len(session.HaveIDs())),
		zap.Bool("in_sync", stats.InSync),
	)
	f := &fetcher{
		logger: logger,
		cfg:    &s.cfg,
		clock:  s.clock,
		conn:   conn,
		store:  s.store,
	}
	fetched, err := f.fetch(ctx, need)
	stats.EventsFetched = uint32(fetched)
	fetchedEvents.Add(float64(fetched))
	if err != nil {
		return stats, err
	}
	logger.Info("synced with relay",
		zap.Uint32("local", stats.LocalCount),
		zap.Uint32("rounds", stats.Rounds),
		zap.Uint32("fetched", stats.EventsFetched),
		zap.Bool("in_sync", stats.InSync),
	)
	return stats, nil
}
