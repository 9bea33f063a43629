// Package sql is the sqlite layer of the event store: a pool of
// connections, transactions and the embedded schema migrations.
package sql

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	sqlite "github.com/go-llsqlite/crawshaw"
	"github.com/go-llsqlite/crawshaw/sqlitex"
	"go.uber.org/zap"
)

var (
	// ErrNoConnection is returned when the context expires before a pooled
	// connection is available, or the pool is closed.
	ErrNoConnection = errors.New("database: no free connection")
	// ErrNotFound is returned if a requested record is not stored.
	ErrNotFound = errors.New("database: not found")
	// ErrObjectExists is returned when a unique constraint rejects an insert.
	ErrObjectExists = errors.New("database: object exists")
)

// Statement is a prepared sqlite statement.
type Statement = sqlite.Stmt

// Encoder binds the parameters of a statement, either positional
// (where id = ?1) or named (where id = @id).
type Encoder func(*Statement)

// Decoder is called for every row of the result. Returning false stops
// the iteration.
type Decoder func(*Statement) bool

// Executor runs a single statement.
type Executor interface {
	Exec(query string, enc Encoder, dec Decoder) (int, error)
}

type options struct {
	connections int
	migrate     bool
	migrations  Migrations
	latency     bool
	memory      bool
	logger      *zap.Logger
}

// Opt configures the database.
type Opt func(*options)

// WithConnections sets the size of the connection pool.
func WithConnections(n int) Opt {
	return func(o *options) {
		o.connections = n
	}
}

// WithLogger specifies the logger for the database.
func WithLogger(logger *zap.Logger) Opt {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMigrations replaces the embedded schema migrations.
func WithMigrations(m Migrations) Opt {
	return func(o *options) {
		o.migrations = m
	}
}

// WithMigrationsDisabled opens the database as is.
func WithMigrationsDisabled() Opt {
	return func(o *options) {
		o.migrate = false
	}
}

// WithLatencyMetering records the duration of every query in the
// query_duration histogram.
func WithLatencyMetering(enable bool) Opt {
	return func(o *options) {
		o.latency = enable
	}
}

// InMemory opens a private in-memory database with a single connection.
// It panics on error and is meant for tests.
func InMemory(opts ...Opt) *Database {
	opts = append(opts, WithConnections(1), func(o *options) { o.memory = true })
	db, err := Open("file::memory:?mode=memory", opts...)
	if err != nil {
		panic(err)
	}
	return db
}

// Open opens the database at uri, creating the file if it doesn't exist,
// and brings the schema up to date. File databases use WAL journaling.
func Open(uri string, opts ...Opt) (*Database, error) {
	o := options{
		connections: 16,
		migrate:     true,
		migrations:  embeddedMigrations,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	pool, err := openPool(uri, &o)
	if err != nil {
		return nil, err
	}
	db := &Database{pool: pool, latency: o.latency}
	if !o.migrate {
		return db, nil
	}
	if err := db.migrate(o.migrations, o.logger.With(zap.String("uri", uri))); err != nil {
		return nil, errors.Join(fmt.Errorf("migrate db %s: %w", uri, err), db.Close())
	}
	return db, nil
}

func openPool(uri string, o *options) (*sqlitex.Pool, error) {
	if o.memory {
		pool, err := sqlitex.Open(uri, 0, o.connections)
		if err != nil {
			return nil, fmt.Errorf("open in-memory db: %w", err)
		}
		return pool, nil
	}
	flags := sqlite.SQLITE_OPEN_READWRITE | sqlite.SQLITE_OPEN_WAL |
		sqlite.SQLITE_OPEN_URI | sqlite.SQLITE_OPEN_NOMUTEX
	pool, err := sqlitex.Open(uri, flags, o.connections)
	if err == nil {
		return pool, nil
	}
	if sqlite.ErrCode(err) != sqlite.SQLITE_CANTOPEN {
		return nil, fmt.Errorf("open db %s: %w", uri, err)
	}
	pool, err = sqlitex.Open(uri, flags|sqlite.SQLITE_OPEN_CREATE, o.connections)
	if err != nil {
		return nil, fmt.Errorf("create db %s: %w", uri, err)
	}
	return pool, nil
}

// Database is a pool of connections to one sqlite database.
type Database struct {
	pool    *sqlitex.Pool
	latency bool
	closed  atomic.Bool
	queries atomic.Int64
}

func (db *Database) migrate(m Migrations, logger *zap.Logger) error {
	before, err := userVersion(db)
	if err != nil {
		return err
	}
	if err := db.WithTx(context.Background(), func(tx *Tx) error {
		return m(tx)
	}); err != nil {
		return err
	}
	after, err := userVersion(db)
	if err != nil {
		return err
	}
	if after != before {
		logger.Info("database migrated", zap.Int("from", before), zap.Int("to", after))
	}
	return nil
}

// acquire takes a connection from the pool. It returns nil if ctx expires
// first or the pool is closed.
func (db *Database) acquire(ctx context.Context) *sqlite.Conn {
	start := time.Now()
	conn := db.pool.Get(ctx)
	if conn != nil {
		connWaitLatency.Observe(time.Since(start).Seconds())
	}
	return conn
}

func (db *Database) begin(ctx context.Context, mode string) (*Tx, error) {
	conn := db.acquire(ctx)
	if conn == nil {
		return nil, ErrNoConnection
	}
	if _, err := conn.Prep(mode).Step(); err != nil {
		db.pool.Put(conn)
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{db: db, conn: conn}, nil
}

// Tx starts a deferred transaction. It takes the write lock on the first
// write statement. The caller must Release it.
func (db *Database) Tx(ctx context.Context) (*Tx, error) {
	return db.begin(ctx, "BEGIN;")
}

// WithTx runs exec in an immediate (write) transaction, committing if
// exec returns nil.
func (db *Database) WithTx(ctx context.Context, exec func(*Tx) error) error {
	tx, err := db.begin(ctx, "BEGIN IMMEDIATE;")
	if err != nil {
		return err
	}
	defer tx.Release()
	if err := exec(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// WithReadTx runs exec in a deferred transaction that is always rolled
// back. All the queries of exec see the same snapshot.
func (db *Database) WithReadTx(ctx context.Context, exec func(*Tx) error) error {
	tx, err := db.Tx(ctx)
	if err != nil {
		return err
	}
	defer tx.Release()
	return exec(tx)
}

// Exec runs the query on a pooled connection outside of any transaction.
func (db *Database) Exec(query string, enc Encoder, dec Decoder) (int, error) {
	conn := db.acquire(context.Background())
	if conn == nil {
		return 0, ErrNoConnection
	}
	defer db.pool.Put(conn)
	return db.exec(conn, query, enc, dec)
}

// Close closes the pooled connections. Closing twice is a no-op.
func (db *Database) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	if err := db.pool.Close(); err != nil {
		return fmt.Errorf("close pool: %w", err)
	}
	return nil
}

// QueryCount returns the number of statements executed, failed ones
// included, not counting transaction control.
func (db *Database) QueryCount() int {
	return int(db.queries.Load())
}

func (db *Database) exec(conn *sqlite.Conn, query string, enc Encoder, dec Decoder) (int, error) {
	db.queries.Add(1)
	if db.latency {
		defer func(start time.Time) {
			queryDuration.WithLabelValues(query).Observe(float64(time.Since(start)))
		}(time.Now())
	}
	stmt, err := conn.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("prepare %s: %w", query, err)
	}
	defer stmt.ClearBindings()
	if enc != nil {
		enc(stmt)
	}
	var rows int
	for {
		more, err := stmt.Step()
		switch {
		case err != nil:
			switch sqlite.ErrCode(err) {
			case sqlite.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite.SQLITE_CONSTRAINT_UNIQUE:
				return 0, ErrObjectExists
			}
			return 0, fmt.Errorf("step %d: %w", rows, err)
		case !more:
			return rows, nil
		}
		rows++
		if dec != nil && !dec(stmt) {
			if err := stmt.Reset(); err != nil {
				return rows, fmt.Errorf("reset: %w", err)
			}
			return rows, nil
		}
	}
}

// Tx is a transaction holding one pooled connection.
type Tx struct {
	db        *Database
	conn      *sqlite.Conn
	committed bool
}

// Exec runs the query inside the transaction.
func (tx *Tx) Exec(query string, enc Encoder, dec Decoder) (int, error) {
	return tx.db.exec(tx.conn, query, enc, dec)
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	if _, err := tx.conn.Prep("COMMIT;").Step(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	tx.committed = true
	return nil
}

// Release rolls back the transaction unless it was committed, and returns
// the connection to the pool.
func (tx *Tx) Release() error {
	defer tx.db.pool.Put(tx.conn)
	if tx.committed {
		return nil
	}
	if _, err := tx.conn.Prep("ROLLBACK;").Step(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// AppendBlob appends the blob in column col to buf.
func AppendBlob(buf []byte, stmt *Statement, col int) []byte {
	n := stmt.ColumnLen(col)
	if n == 0 {
		return buf
	}
	buf = append(buf, make([]byte, n)...)
	stmt.ColumnBytes(col, buf[len(buf)-n:])
	return buf
}
