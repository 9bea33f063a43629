package sql

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testTables(db Executor) error {
	if _, err := db.Exec(`create table testing1 (
		id varchar primary key,
		field int
	)`, nil, nil); err != nil {
		return err
	}
	return nil
}

func testURI(tb testing.TB) string {
	tb.Helper()
	return "file:" + filepath.Join(tb.TempDir(), "events.sql")
}

func TestTransactionIsolation(t *testing.T) {
	db := InMemory(WithMigrations(testTables))
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	tx, err := db.Tx(context.Background())
	require.NoError(t, err)

	key := "dsada"
	_, err = tx.Exec("insert into testing1(id, field) values (?1, ?2)", func(stmt *Statement) {
		stmt.BindText(1, key)
		stmt.BindInt64(2, 20)
	}, nil)
	require.NoError(t, err)

	rows, err := tx.Exec("select 1 from testing1 where id = ?1", func(stmt *Statement) {
		stmt.BindText(1, key)
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	require.NoError(t, tx.Release())

	rows, err = db.Exec("select 1 from testing1 where id = ?1", func(stmt *Statement) {
		stmt.BindText(1, key)
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, rows)
}

func TestWithTx(t *testing.T) {
	db := InMemory(WithMigrations(testTables))
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	insert := func(tx *Tx, id string) error {
		_, err := tx.Exec("insert into testing1(id, field) values (?1, 1)", func(stmt *Statement) {
			stmt.BindText(1, id)
		}, nil)
		return err
	}
	require.NoError(t, db.WithTx(context.Background(), func(tx *Tx) error {
		return insert(tx, "a")
	}))
	errRollback := errors.New("rollback")
	require.ErrorIs(t, db.WithTx(context.Background(), func(tx *Tx) error {
		require.NoError(t, insert(tx, "b"))
		return errRollback
	}), errRollback)
	require.ErrorIs(t, db.WithTx(context.Background(), func(tx *Tx) error {
		return insert(tx, "a")
	}), ErrObjectExists)

	var ids []string
	require.NoError(t, db.WithReadTx(context.Background(), func(tx *Tx) error {
		_, err := tx.Exec("select id from testing1 order by id", nil, func(stmt *Statement) bool {
			ids = append(ids, stmt.ColumnText(0))
			return true
		})
		return err
	}))
	require.Equal(t, []string{"a"}, ids)
}

func TestPersistentDatabase(t *testing.T) {
	uri := testURI(t)
	db, err := Open(uri, WithLogger(zaptest.NewLogger(t)), WithConnections(4), WithLatencyMetering(true))
	require.NoError(t, err)
	_, err = db.Exec(`insert into events (id, pubkey, created_at, kind, raw, received)
		values (?1, ?2, 1, 1, x'00', 0)`, func(stmt *Statement) {
		stmt.BindBytes(1, make([]byte, 32))
		stmt.BindBytes(2, make([]byte, 32))
	}, nil)
	require.NoError(t, err)
	require.Positive(t, db.QueryCount())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db, err = Open(uri)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	rows, err := db.Exec("select 1 from events", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, rows)
}

func TestDecoderStopsEarly(t *testing.T) {
	db := InMemory(WithMigrations(testTables))
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	for _, id := range []string{"a", "b", "c"} {
		_, err := db.Exec("insert into testing1(id, field) values (?1, 1)", func(stmt *Statement) {
			stmt.BindText(1, id)
		}, nil)
		require.NoError(t, err)
	}
	n := 0
	rows, err := db.Exec("select id from testing1", nil, func(stmt *Statement) bool {
		n++
		return n < 2
	})
	require.NoError(t, err)
	require.Equal(t, 2, rows)
	require.Equal(t, 2, n)
}
