// Package database opens the relational database shared with the rest of the
// project-management application. Production deployments point this at the
// same postgres instance the CRUD API uses; anything that doesn't look like a
// postgres DSN is treated as a sqlite file, which keeps local development and
// tests self-contained.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// DB wraps a sql.DB together with the dialect it was opened with, so that
// callers can rebind placeholders without re-parsing the DSN.
type DB struct {
	*sql.DB
	Dialect Dialect
}

func Open(dsn string) (*DB, error) {
	dialect := DialectSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialect = DialectPostgres
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

// Rebind converts `?` placeholders to the dialect's positional form. Queries
// throughout this module are written with `?`.
func (d *DB) Rebind(query string) string {
	if d.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureSchema creates the tables the sync service reads and writes when they
// don't already exist. In a full deployment the CRUD application owns and
// migrates this schema; this exists so the service can run standalone.
func (d *DB) EnsureSchema(ctx context.Context) error {
	blob := "BLOB"
	if d.Dialect == DialectPostgres {
		blob = "BYTEA"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS project_members (
			projectid INTEGER NOT NULL,
			userid INTEGER NOT NULL,
			role TEXT NOT NULL,
			PRIMARY KEY (projectid, userid)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pages (
			id INTEGER PRIMARY KEY,
			projectid INTEGER NOT NULL,
			name TEXT NOT NULL,
			content %s
		)`, blob),
	}
	for _, stmt := range stmts {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
