package sql

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations brings the schema up to date.
type Migrations func(Executor) error

// migration is one numbered schema file, e.g. 0001_events.sql, split into
// statements.
type migration struct {
	version    int
	name       string
	statements []string
}

func loadMigrations() ([]migration, error) {
	files, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	migrations := make([]migration, 0, len(files))
	for _, file := range files {
		name := path.Base(file)
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", name, err)
		}
		data, err := migrationFiles.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migrations = append(migrations, migration{
			version:    v,
			name:       name,
			statements: splitStatements(string(data)),
		})
	}
	slices.SortFunc(migrations, func(a, b migration) int {
		return a.version - b.version
	})
	return migrations, nil
}

// splitStatements splits a schema file on semicolons. The schema files
// don't use semicolons in literals or triggers.
func splitStatements(data string) []string {
	var stmts []string
	for _, s := range strings.Split(data, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s+";")
		}
	}
	return stmts
}

func userVersion(db Executor) (int, error) {
	var v int
	if _, err := db.Exec("PRAGMA user_version;", nil, func(stmt *Statement) bool {
		v = stmt.ColumnInt(0)
		return false
	}); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// embeddedMigrations applies the schema files newer than the database's
// user_version, recording each applied version.
func embeddedMigrations(db Executor) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	current, err := userVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := db.Exec(stmt, nil, nil); err != nil {
				return fmt.Errorf("migration %s: %w", m.name, err)
			}
		}
		// pragmas don't accept bound parameters
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d;", m.version), nil, nil); err != nil {
			return fmt.Errorf("set user_version %d: %w", m.version, err)
		}
	}
	return nil
}
