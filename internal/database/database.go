package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver with FTS5

	"capture-library/internal/logging"
	"capture-library/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// FileName is the database file created inside the library directory.
const FileName = "library.db"

// Options tunes a Database. A nil *Options uses the defaults.
type Options struct {
	// Clock supplies the current time for updatedAt/pinnedAt stamps.
	Clock func() time.Time
}

// Database owns the library's single SQLite connection.
//
// It is not safe for concurrent use. The library worker is its only caller and
// serializes every operation, so no locking happens here.
type Database struct {
	db     *sql.DB
	dbPath string
	clock  func() time.Time
}

// New opens (creating if needed) the database file at dbPath and applies any
// pending migrations. The parent directory must already exist.
func New(ctx context.Context, dbPath string, opts *Options) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		return nil, &StoreError{Op: "open", Kind: KindUnavailable, Err: err}
	}

	// Pragmas in the DSN apply to every connection the pool opens.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Kind: KindUnavailable, Err: err}
	}

	// One writer, one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, &StoreError{Op: "open", Kind: KindUnavailable, Err: err}
	}

	d := &Database{
		db:     db,
		dbPath: dbPath,
		clock:  time.Now,
	}
	if opts != nil && opts.Clock != nil {
		d.clock = opts.Clock
	}

	if err := d.migrate(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after migration failure: %v", closeErr)
		}
		return nil, err
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// Close closes the database connection.
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *Database) nowMillis() int64 {
	return d.clock().UnixMilli()
}

func (d *Database) conn(op string) (*sql.DB, error) {
	if d == nil || d.db == nil {
		return nil, &StoreError{Op: op, Kind: KindUnavailable, Err: ErrStoreUnavailable}
	}
	return d.db, nil
}

// withTx runs fn inside a transaction. Any error from fn, or from the commit,
// rolls the whole block back.
func (d *Database) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	db, err := d.conn(op)
	if err != nil {
		return err
	}

	start := time.Now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return statementError(op, err)
	}

	if err := fn(tx); err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(time.Since(start).Seconds())
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		var se *StoreError
		if errors.As(err, &se) {
			return err
		}
		return statementError(op, err)
	}

	if err := tx.Commit(); err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(time.Since(start).Seconds())
		return statementError(op, err)
	}
	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(time.Since(start).Seconds())
	return nil
}

// observeQuery starts timing an operation and returns the function that
// records its outcome.
func observeQuery(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			logging.Error("database %s failed: %v", operation, err)
		}
		metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
		metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
