// Package migrations holds the schema of the accounts store. The SQL is
// written to run unchanged on SQLite and PostgreSQL.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var files embed.FS

// goose keeps its base FS and dialect in package state
var mu sync.Mutex

// Dialects accepted by Up
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// FS returns the migration files
func FS() fs.FS {
	sub, err := fs.Sub(files, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Up applies every pending migration
func Up(ctx context.Context, db *sql.DB, dialect string) error {
	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(FS())
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "unsupported migration dialect").
			WithMetadata(map[string]any{"dialect": dialect})
	}

	if err := gooseUpContext(ctx, db, "."); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run migrations")
	}
	return nil
}

// Version reports the current schema version
func Version(ctx context.Context, db *sql.DB, dialect string) (int64, error) {
	mu.Lock()
	defer mu.Unlock()

	if err := goose.SetDialect(dialect); err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryBadInput, "unsupported migration dialect")
	}
	return goose.GetDBVersionContext(ctx, db)
}
