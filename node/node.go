// Package node wires the sync subsystem into a runnable application.
package node

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nostrc/negsync/config"
	"github.com/nostrc/negsync/events"
	"github.com/nostrc/negsync/log"
	"github.com/nostrc/negsync/metrics"
	"github.com/nostrc/negsync/negsync"
	"github.com/nostrc/negsync/nostr"
	"github.com/nostrc/negsync/relay"
	"github.com/nostrc/negsync/scheduler"
	"github.com/nostrc/negsync/sql"
	"github.com/nostrc/negsync/store"
)

// Logger names.
const (
	SyncLogger      = "sync"
	RelayLogger     = "relay"
	StoreLogger     = "store"
	SchedulerLogger = "scheduler"
)

// Option to modify an App instance.
type Option func(app *App)

// WithConfig overwrites the default App config.
func WithConfig(conf *config.Config) Option {
	return func(app *App) {
		app.Config = conf
	}
}

// WithLog specifies the loggers of the App.
func WithLog(logger *log.Logger) Option {
	return func(app *App) {
		app.log = logger
	}
}

// WithClock specifies the clock used by the sync components.
func WithClock(clock clockwork.Clock) Option {
	return func(app *App) {
		app.clock = clock
	}
}

// New creates an instance of the app.
func New(opts ...Option) *App {
	defaultConfig := config.DefaultConfig()
	app := &App{
		Config: &defaultConfig,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(app)
	}
	app.logger = zap.NewNop()
	if app.log != nil {
		app.logger = app.log.Zap()
	}
	return app
}

// App holds the components of a running negsync instance.
type App struct {
	Config *config.Config

	log       *log.Logger
	logger    *zap.Logger
	clock     clockwork.Clock
	fileLock  *flock.Flock
	db        *sql.Database
	store     *store.EventStore
	client    *relay.Client
	syncer    *negsync.Syncer
	bus       *events.Bus
	scheduler *scheduler.Scheduler
}

// Lock locks the data directory for exclusive use. It returns an error if
// it's already locked by another process.
func (app *App) Lock() error {
	lockPath := app.Config.LockPath()
	lockDir := filepath.Dir(lockPath)
	if _, err := os.Stat(lockDir); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(lockDir, 0o700); err != nil {
			return fmt.Errorf("creating dir %s for lock %s: %w", lockDir, lockPath, err)
		}
	}
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", lockPath, err)
	} else if !locked {
		return fmt.Errorf("only one negsync instance should be using %s (locking file %s)",
			app.Config.DataDir, fl.Path())
	}
	app.fileLock = fl
	return nil
}

// Unlock unlocks the data directory. It is a no-op if it's not locked.
func (app *App) Unlock() {
	if app.fileLock == nil {
		return
	}
	if err := app.fileLock.Unlock(); err != nil {
		app.logger.Error("failed to unlock file",
			zap.String("path", app.fileLock.Path()),
			zap.Error(err),
		)
	}
	app.fileLock = nil
}

func (app *App) named(module string) *zap.Logger {
	if app.log == nil {
		return zap.NewNop()
	}
	return app.log.Named(module)
}

// Initialize opens the database and creates the sync components.
func (app *App) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath()), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("file:"+app.Config.DBPath(),
		sql.WithLogger(app.named(StoreLogger)),
		sql.WithConnections(app.Config.Store.Connections),
		sql.WithLatencyMetering(app.Config.Store.LatencyMetering),
	)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	app.db = db
	app.store, err = store.New(db,
		store.WithLogger(app.named(StoreLogger)),
		store.WithCacheSize(app.Config.Store.CacheSize),
		store.WithClock(app.clock),
	)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	relayLogger := app.named(RelayLogger)
	app.client = relay.NewClient(
		relay.WithLogger(relayLogger),
		relay.WithDialTimeout(app.Config.Sync.HandshakeTimeout),
		relay.WithUnclaimedHandler(func(url string, env nostr.Envelope) {
			relayLogger.Debug("unexpected relay message",
				zap.String("relay", url),
				zap.String("label", env.Label),
			)
		}),
	)
	app.syncer = negsync.NewSyncer(app.store, app.client,
		negsync.WithLogger(app.named(SyncLogger)),
		negsync.WithConfig(app.Config.Sync),
		negsync.WithClock(app.clock),
	)
	app.bus = events.NewBus(events.WithLogger(app.named(SchedulerLogger)))
	app.logger.Info("initialized",
		zap.String("database", app.Config.DBPath()),
		zap.Int("targets", len(app.Config.Sync.Targets)),
	)
	return nil
}

// Bus returns the event bus of the app.
func (app *App) Bus() *events.Bus {
	return app.bus
}

// Result is the outcome of a sync with one target.
type Result struct {
	Target negsync.Target `json:"target"`
	Stats  negsync.Stats  `json:"stats"`
	Error  string         `json:"error,omitempty"`
	Kind   string         `json:"error_kind,omitempty"`
}

// SyncOnce syncs with every configured target once, in order.
func (app *App) SyncOnce(ctx context.Context) ([]Result, error) {
	if len(app.Config.Sync.Targets) == 0 {
		return nil, scheduler.ErrNoTargets
	}
	results := make([]Result, 0, len(app.Config.Sync.Targets))
	var errs []error
	for _, target := range app.Config.Sync.Targets {
		stats, err := app.syncer.Sync(ctx, target)
		res := Result{Target: target, Stats: stats}
		if err != nil {
			res.Error = err.Error()
			res.Kind = negsync.KindOf(err)
			errs = append(errs, fmt.Errorf("%s: %w", target.Relay, err))
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	return results, errors.Join(errs...)
}

// Start runs the scheduler and the metrics services until the context is
// canceled.
func (app *App) Start(ctx context.Context) error {
	s, err := scheduler.Default(
		scheduler.WithLogger(app.named(SchedulerLogger)),
		scheduler.WithClock(app.clock),
		scheduler.WithConfig(app.Config.Scheduler),
		scheduler.WithSyncer(app.syncer),
		scheduler.WithTargets(app.Config.Sync.Targets...),
		scheduler.WithBus(app.bus),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	app.scheduler = s

	eg, ctx := errgroup.WithContext(ctx)
	if app.Config.Metrics.Enable {
		srv := metrics.NewServer(app.Config.Metrics.Listen, app.logger)
		eg.Go(func() error {
			return srv.Run(ctx)
		})
	}
	if app.Config.Metrics.Push.URL != "" {
		metrics.StartPushing(ctx, app.Config.Metrics.Push, app.Config.DataDir, app.logger)
	}
	s.Start()
	eg.Go(func() error {
		<-ctx.Done()
		scheduler.Shutdown()
		return nil
	})
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Status returns the scheduler status, if the scheduler is running.
func (app *App) Status() (scheduler.Status, bool) {
	if app.scheduler == nil {
		return scheduler.Status{}, false
	}
	return app.scheduler.Status(), true
}

// Cleanup stops the services and releases the resources of the app.
func (app *App) Cleanup() {
	scheduler.Shutdown()
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", zap.Error(err))
		}
		app.db = nil
	}
	app.Unlock()
}
