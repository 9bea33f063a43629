// Package events contains queries on the table of stored Nostr events.
package events

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/nostrc/negsync/nostr"
	"github.com/nostrc/negsync/sql"
)

// Add stores the event with its raw JSON encoding. It returns
// sql.ErrObjectExists if the event is already stored.
func Add(db sql.Executor, ev *nostr.Event, raw []byte, received time.Time) error {
	id, err := ev.BinaryID()
	if err != nil {
		return fmt.Errorf("add event: %w", err)
	}
	pubkey, err := hex.DecodeString(ev.PubKey)
	if err != nil || len(pubkey) != 32 {
		return fmt.Errorf("add event %s: bad pubkey %q", id.ShortString(), ev.PubKey)
	}
	if _, err := db.Exec(`insert into events (id, pubkey, created_at, kind, raw, received)
		values (?1, ?2, ?3, ?4, ?5, ?6)`,
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id[:])
			stmt.BindBytes(2, pubkey)
			stmt.BindInt64(3, ev.CreatedAt)
			stmt.BindInt64(4, int64(ev.Kind))
			stmt.BindBytes(5, raw)
			stmt.BindInt64(6, received.Unix())
		}, nil); err != nil {
		return fmt.Errorf("add event %s: %w", id.ShortString(), err)
	}
	return nil
}

// Has returns true if the event with the given ID is stored.
func Has(db sql.Executor, id nostr.ID) (bool, error) {
	rows, err := db.Exec("select 1 from events where id = ?1", func(stmt *sql.Statement) {
		stmt.BindBytes(1, id[:])
	}, nil)
	if err != nil {
		return false, fmt.Errorf("has event %s: %w", id.ShortString(), err)
	}
	return rows > 0, nil
}

// Get returns the raw JSON encoding of the event.
func Get(db sql.Executor, id nostr.ID) (raw []byte, err error) {
	rows, err := db.Exec("select raw from events where id = ?1", func(stmt *sql.Statement) {
		stmt.BindBytes(1, id[:])
	}, func(stmt *sql.Statement) bool {
		raw = sql.AppendBlob(nil, stmt, 0)
		return true
	})
	switch {
	case err != nil:
		return nil, fmt.Errorf("get event %s: %w", id.ShortString(), err)
	case rows == 0:
		return nil, fmt.Errorf("%w: event %s", sql.ErrNotFound, id.ShortString())
	}
	return raw, nil
}

// Count returns the number of stored events of the given kinds, or of all
// the events if no kinds are specified.
func Count(db sql.Executor, kinds ...int) (n int, err error) {
	q := "select count(*) from events"
	if len(kinds) != 0 {
		q += " where kind in (" + placeholders(1, len(kinds)) + ")"
	}
	if _, err := db.Exec(q, func(stmt *sql.Statement) {
		for i, k := range kinds {
			stmt.BindInt64(i+1, int64(k))
		}
	}, func(stmt *sql.Statement) bool {
		n = stmt.ColumnInt(0)
		return true
	}); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Query calls fn with the raw JSON encoding of each stored event matching
// the filter, ordered by (created_at, id), until fn returns false.
// The raw slice is reused and must not be retained by fn.
func Query(db sql.Executor, filter nostr.Filter, fn func(raw []byte) bool) error {
	var (
		conds []string
		binds []func(stmt *sql.Statement, n int)
	)
	addIn := func(column string, n int, bind func(stmt *sql.Statement, pos, i int)) {
		start := len(binds) + 1
		conds = append(conds, fmt.Sprintf("%s in (%s)", column, placeholders(start, n)))
		for i := 0; i < n; i++ {
			binds = append(binds, func(stmt *sql.Statement, pos int) { bind(stmt, pos, i) })
		}
	}
	if len(filter.Kinds) != 0 {
		addIn("kind", len(filter.Kinds), func(stmt *sql.Statement, pos, i int) {
			stmt.BindInt64(pos, int64(filter.Kinds[i]))
		})
	}
	if len(filter.IDs) != 0 {
		ids := make([][]byte, 0, len(filter.IDs))
		for _, s := range filter.IDs {
			id, err := nostr.ParseID(s)
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}
			ids = append(ids, id[:])
		}
		addIn("id", len(ids), func(stmt *sql.Statement, pos, i int) {
			stmt.BindBytes(pos, ids[i])
		})
	}
	if len(filter.Authors) != 0 {
		authors := make([][]byte, 0, len(filter.Authors))
		for _, s := range filter.Authors {
			b, err := hex.DecodeString(s)
			if err != nil {
				return fmt.Errorf("query events: bad author %q: %w", s, err)
			}
			authors = append(authors, b)
		}
		addIn("pubkey", len(authors), func(stmt *sql.Statement, pos, i int) {
			stmt.BindBytes(pos, authors[i])
		})
	}
	if filter.Since != nil {
		since := *filter.Since
		conds = append(conds, fmt.Sprintf("created_at >= ?%d", len(binds)+1))
		binds = append(binds, func(stmt *sql.Statement, pos int) { stmt.BindInt64(pos, since) })
	}
	if filter.Until != nil {
		until := *filter.Until
		conds = append(conds, fmt.Sprintf("created_at <= ?%d", len(binds)+1))
		binds = append(binds, func(stmt *sql.Statement, pos int) { stmt.BindInt64(pos, until) })
	}

	var q strings.Builder
	q.WriteString("select raw from events")
	if len(conds) != 0 {
		q.WriteString(" where ")
		q.WriteString(strings.Join(conds, " and "))
	}
	q.WriteString(" order by created_at, id")
	if filter.Limit > 0 {
		fmt.Fprintf(&q, " limit %d", filter.Limit)
	}

	var buf []byte
	if _, err := db.Exec(q.String(), func(stmt *sql.Statement) {
		for i, bind := range binds {
			bind(stmt, i+1)
		}
	}, func(stmt *sql.Statement) bool {
		buf = sql.AppendBlob(buf[:0], stmt, 0)
		return fn(buf)
	}); err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	return nil
}

func placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "?%d", start+i)
	}
	return b.String()
}
