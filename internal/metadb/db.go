// Package metadb is the durable metadata store: versions, file heads,
// branches, tags, search terms, and ignore-rule snapshots, held in a single
// embedded SQLite database opened in WAL mode. Forward migrations are
// applied through goose; all multi-row writes run inside one transaction
// per spec, serialized by a single in-process write mutex so exactly one
// ingest (or ref-management) transaction executes at a time while readers
// proceed concurrently against SQLite's own MVCC snapshot.
package metadb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the WASM SQLite runtime, no cgo required
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrSchemaTooNew is returned by Open when the database's recorded schema
// version is ahead of what this binary's embedded migrations understand —
// an older binary was pointed at a repository written by a newer one.
var ErrSchemaTooNew = errors.New("metadb: repository schema is newer than this binary understands")

// ErrBusy wraps SQLITE_BUSY: another connection holds the write lock.
// Callers may retry with bounded backoff.
var ErrBusy = errors.New("metadb: database is locked")

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func init() {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		panic(fmt.Sprintf("metadb: registering goose dialect: %v", err))
	}
}

// DB wraps the underlying *sql.DB with the single-writer discipline spec.md
// §5 requires: Write serializes callers through writeMu so only one ingest
// or ref-management transaction is ever in flight, while Read runs directly
// against the shared connection pool for concurrent, lock-free queries.
type DB struct {
	sql *sql.DB

	writeMu sync.Mutex
}

// Open opens (creating if absent) the SQLite database at path in WAL mode
// and runs any pending forward migrations. It refuses to open a database
// whose on-disk schema version the embedded migrations don't recognize.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=foreign_keys(ON)", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("metadb: opening database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("metadb: connecting to database: %w", err)
	}

	dbVersion, err := goose.GetDBVersion(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("metadb: reading schema version: %w", err)
	}

	migrations, err := goose.CollectMigrations("migrations", 0, goose.MaxVersion)
	if err == nil && len(migrations) > 0 {
		latestKnown := migrations[len(migrations)-1].Version
		if dbVersion > latestKnown {
			sqlDB.Close() //nolint:errcheck // already returning an error
			return nil, fmt.Errorf("%w: database is at version %d, binary knows up to %d",
				ErrSchemaTooNew, dbVersion, latestKnown)
		}
	}

	if err := goose.Up(sqlDB, "migrations"); err != nil {
		sqlDB.Close() //nolint:errcheck // already returning an error
		return nil, fmt.Errorf("metadb: running migrations: %w", err)
	}

	return &DB{sql: sqlDB}, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Write runs fn inside a single transaction, holding the process-wide write
// lock for its duration. This is the atomicity boundary spec.md §4.B
// describes for ingest and ref operations: fn's statements either all land
// or none do, and no other writer can interleave.
func (d *DB) Write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return fmt.Errorf("metadb: beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("metadb: rollback after %w failed: %v", err, rbErr)
		}
		if isBusy(err) {
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return fmt.Errorf("metadb: committing transaction: %w", err)
	}
	return nil
}

// Read runs fn against the shared read-only connection pool. Concurrent
// Read calls never block one another or a concurrent Write beyond SQLite's
// own per-statement locking.
func (d *DB) Read(ctx context.Context, fn func(q Queryer) error) error {
	return fn(&sqlQueryer{d.sql})
}

// Queryer is the minimal read surface shared by *sql.DB and *sql.Tx, letting
// query helpers run uniformly inside or outside an explicit transaction.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlQueryer struct{ db *sql.DB }

func (q *sqlQueryer) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, query, args...)
}

func (q *sqlQueryer) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, query, args...)
}
