// Package scheduler runs periodic sync attempts, backing off while the
// relays stay in sync with the local store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nostrc/negsync/events"
	"github.com/nostrc/negsync/negsync"
)

var (
	// ErrNoTargets is returned by attempts when no targets are configured.
	ErrNoTargets = errors.New("no sync targets")
	// ErrNoSyncer is returned by New when no syncer is specified.
	ErrNoSyncer = errors.New("no syncer")
)

// State of the scheduler.
type State int

const (
	// StateIdle is the state between successful attempts.
	StateIdle State = iota
	// StateRunning is the state while an attempt is in flight.
	StateRunning
	// StateError is the state after a failed attempt.
	StateError
)

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("<unknown state %d>", int(s))
	}
}

// Config is the scheduler configuration.
type Config struct {
	// BaseInterval is the interval between attempts after drift is found.
	BaseInterval time.Duration `mapstructure:"base-interval" yaml:"base-interval"`
	// MaxInterval caps the interval while relays stay in sync.
	MaxInterval time.Duration `mapstructure:"max-interval" yaml:"max-interval"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		BaseInterval: 60 * time.Second,
		MaxInterval:  600 * time.Second,
	}
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Interval          time.Duration `json:"interval"`
	ConsecutiveInSync int           `json:"consecutive_in_sync"`
	TotalSyncs        uint64        `json:"total_syncs"`
	LastSync          time.Time     `json:"last_sync"`
	State             State         `json:"state"`
	Running           bool          `json:"running"`
	LastError         string        `json:"last_error,omitempty"`
}

// Opt is an option for Scheduler.
type Opt func(*Scheduler)

// WithLogger specifies the logger for the scheduler.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock specifies the clock used for scheduling.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithConfig specifies the scheduler configuration.
func WithConfig(cfg Config) Opt {
	return func(s *Scheduler) {
		s.cfg = cfg
	}
}

// WithSyncer specifies the syncer used by attempts.
func WithSyncer(syncer Syncer) Opt {
	return func(s *Scheduler) {
		s.syncer = syncer
	}
}

// WithTargets specifies the relays and kinds synced by each attempt.
func WithTargets(targets ...negsync.Target) Opt {
	return func(s *Scheduler) {
		s.targets = targets
	}
}

// WithBus specifies the bus used for notifications.
func WithBus(bus *events.Bus) Opt {
	return func(s *Scheduler) {
		s.bus = bus
	}
}

// Scheduler runs sync attempts one at a time. While the relays are in sync
// the interval between attempts doubles up to the configured maximum, and
// drift resets it to the base interval.
type Scheduler struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	cfg     Config
	syncer  Syncer
	targets []negsync.Target
	bus     *events.Bus

	trigger chan struct{}

	mu            sync.Mutex
	started       bool
	cancel        context.CancelFunc
	cancelAttempt context.CancelFunc
	eg        *errgroup.Group
	status    Status
	configSub *events.Subscription
}

// New creates a new Scheduler. It is not started.
func New(opts ...Opt) (*Scheduler, error) {
	s := &Scheduler{
		logger:  zap.NewNop(),
		clock:   clockwork.NewRealClock(),
		cfg:     DefaultConfig(),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.syncer == nil {
		return nil, ErrNoSyncer
	}
	if s.cfg.BaseInterval <= 0 {
		return nil, fmt.Errorf("base interval must be positive, got %v", s.cfg.BaseInterval)
	}
	if s.cfg.MaxInterval < s.cfg.BaseInterval {
		return nil, fmt.Errorf("max interval %v is less than base interval %v",
			s.cfg.MaxInterval, s.cfg.BaseInterval)
	}
	if s.bus == nil {
		s.bus = events.NewBus(events.WithLogger(s.logger))
	}
	s.status.Interval = s.cfg.BaseInterval
	return s, nil
}

// Bus returns the bus the scheduler publishes to.
func (s *Scheduler) Bus() *events.Bus {
	return s.bus
}

// Start starts the scheduler with the base interval. The first attempt
// runs right away. Calling Start on a running scheduler has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.resetBackoff()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.eg = &errgroup.Group{}
	s.configSub = s.bus.Subscribe(events.TopicRelayConfig, 1)
	sub := s.configSub
	s.eg.Go(func() error {
		s.loop(ctx)
		return nil
	})
	s.eg.Go(func() error {
		s.listen(ctx, sub)
		return nil
	})
	s.logger.Info("sync scheduler started",
		zap.Duration("base_interval", s.cfg.BaseInterval),
		zap.Duration("max_interval", s.cfg.MaxInterval),
		zap.Int("targets", len(s.targets)),
	)
}

// Stop stops the scheduler, cancelling the attempt in flight and waiting
// for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	if s.cancelAttempt != nil {
		s.cancelAttempt()
	}
	eg := s.eg
	s.configSub.Close()
	s.mu.Unlock()
	_ = eg.Wait()
	s.logger.Info("sync scheduler stopped")
}

// SyncNow resets the interval to the base interval and requests an
// attempt right away. It returns false and changes nothing if the
// scheduler is not started or an attempt is already in flight.
func (s *Scheduler) SyncNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.status.Running {
		return false
	}
	s.resetBackoff()
	select {
	case s.trigger <- struct{}{}:
	default:
	}
	return true
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// resetBackoff must be called with mu held.
func (s *Scheduler) resetBackoff() {
	s.status.Interval = s.cfg.BaseInterval
	s.status.ConsecutiveInSync = 0
	intervalSeconds.Set(s.status.Interval.Seconds())
	consecutiveInSync.Set(0)
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Interval
}

func (s *Scheduler) loop(ctx context.Context) {
	// drain triggers left from a previous run
	select {
	case <-s.trigger:
	default:
	}
	for ctx.Err() == nil {
		s.attempt(ctx)
		timer := s.clock.NewTimer(s.interval())
		select {
		case <-ctx.Done():
		case <-timer.Chan():
		case <-s.trigger:
		}
		timer.Stop()
	}
}

func (s *Scheduler) listen(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Out():
			if !ok {
				return
			}
			s.logger.Debug("relay configuration changed")
			s.SyncNow()
		}
	}
}

// attempt syncs every target in order, under its own context.
func (s *Scheduler) attempt(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s.mu.Lock()
	s.status.Running = true
	s.status.State = StateRunning
	s.cancelAttempt = cancel
	s.mu.Unlock()

	inSync, err := s.syncTargets(ctx)

	s.mu.Lock()
	s.cancelAttempt = nil
	s.status.Running = false
	switch {
	case errors.Is(err, negsync.ErrCancelled) && ctx.Err() != nil:
		// stopped
		if s.status.State == StateRunning {
			s.status.State = StateIdle
		}
		s.mu.Unlock()
		attempts.WithLabelValues(negsync.KindCancelled).Inc()
		return
	case err != nil:
		s.status.State = StateError
		s.status.LastError = err.Error()
		attempts.WithLabelValues("error").Inc()
	default:
		s.status.State = StateIdle
		s.status.LastError = ""
		s.status.TotalSyncs++
		s.status.LastSync = s.clock.Now()
		if inSync {
			s.status.ConsecutiveInSync++
		} else {
			s.status.ConsecutiveInSync = 0
		}
		s.status.Interval = nextInterval(s.cfg, s.status.ConsecutiveInSync)
		attempts.WithLabelValues("ok").Inc()
	}
	status := s.status
	s.mu.Unlock()

	intervalSeconds.Set(status.Interval.Seconds())
	consecutiveInSync.Set(float64(status.ConsecutiveInSync))
	if err != nil {
		s.logger.Warn("sync attempt failed",
			zap.Duration("next_in", status.Interval),
			zap.Error(err),
		)
		return
	}
	s.bus.Report(events.TopicScheduleChanged, events.ScheduleChanged{
		IntervalSec:       int64(status.Interval / time.Second),
		ConsecutiveInSync: status.ConsecutiveInSync,
	})
	s.logger.Info("sync attempt completed",
		zap.Bool("in_sync", inSync),
		zap.Duration("next_in", status.Interval),
		zap.Int("consecutive_in_sync", status.ConsecutiveInSync),
	)
}

// syncTargets returns true if all targets are in sync. Failed targets
// don't prevent syncing the remaining ones.
func (s *Scheduler) syncTargets(ctx context.Context) (bool, error) {
	if len(s.targets) == 0 {
		s.bus.Report(events.TopicSyncError, events.SyncError{
			Kind:    negsync.KindUnknown,
			Message: ErrNoTargets.Error(),
		})
		return false, ErrNoTargets
	}
	inSync := true
	var errs []error
	for _, target := range s.targets {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%w: %w", negsync.ErrCancelled, ctx.Err()))
			break
		}
		s.bus.Report(events.TopicSyncStarted, events.SyncStarted{Relay: target.Relay})
		stats, err := s.syncer.Sync(ctx, target)
		if err != nil {
			s.bus.Report(events.TopicSyncError, events.SyncError{
				Relay:   target.Relay,
				Kind:    negsync.KindOf(err),
				Message: err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", target.Relay, err))
			continue
		}
		s.bus.Report(events.TopicSyncCompleted, events.SyncCompleted{
			Relay:         target.Relay,
			LocalCount:    stats.LocalCount,
			Rounds:        stats.Rounds,
			EventsFetched: stats.EventsFetched,
			InSync:        stats.InSync,
		})
		if !stats.InSync {
			inSync = false
			for _, kind := range target.Kinds {
				s.bus.Report(events.TopicKindChanged(kind), events.KindChanged{Kind: kind, Relay: target.Relay})
			}
		}
	}
	return inSync, errors.Join(errs...)
}

// nextInterval returns min(base * 2^n, max).
func nextInterval(cfg Config, n int) time.Duration {
	interval := cfg.BaseInterval
	for range n {
		if interval >= cfg.MaxInterval/2 {
			return cfg.MaxInterval
		}
		interval *= 2
	}
	return min(interval, cfg.MaxInterval)
}
