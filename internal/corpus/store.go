// Package corpus stores extracted regex patterns, the projects they came from,
// and how those projects used them, in a single SQLite file.
//
// Patterns are deduplicated by (pattern, flags). Writers insert with
// INSERT OR IGNORE and then upgrade provenance flags, so re-inserting an
// existing pattern can only turn static or dynamic on, never off.
package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotOpen is returned by operations on a closed store.
	ErrNotOpen = errors.New("database not opened")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
)

// Synchronous modes accepted by WithSynchronous.
var SynchronousModes = []string{"OFF", "NORMAL", "FULL", "EXTRA"}

const busyTimeout = 5 * time.Second

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a handle on one corpus database. A Store returned by RunTx is bound
// to that transaction.
type Store struct {
	db     *sql.DB
	q      querier
	path   string
	logger *slog.Logger
	inTx   bool
}

type options struct {
	logger      *slog.Logger
	synchronous string
	readOnly    bool
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSynchronous sets PRAGMA synchronous for every connection.
func WithSynchronous(mode string) Option {
	return func(o *options) { o.synchronous = strings.ToUpper(mode) }
}

// ReadOnly opens the database without write access.
func ReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// DSN builds the driver data source name for path.
func DSN(path string, opts ...Option) (string, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return o.dsn(path)
}

func (o *options) dsn(path string) (string, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))
	if o.synchronous != "" {
		if !validSynchronous(o.synchronous) {
			return "", fmt.Errorf("invalid synchronous mode %q (want one of %s)",
				o.synchronous, strings.Join(SynchronousModes, ", "))
		}
		params.Set("_synchronous", o.synchronous)
	}

	if path == ":memory:" {
		return ":memory:?" + params.Encode(), nil
	}
	if o.readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_journal_mode", "WAL")
	}
	return "file:" + path + "?" + params.Encode(), nil
}

func validSynchronous(mode string) bool {
	for _, m := range SynchronousModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Open opens the corpus at path. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	dsn, err := o.dsn(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %s: %w", path, err)
	}

	return &Store{db: db, q: db, path: path, logger: o.logger}, nil
}

// Create opens the corpus at path and brings its schema up to date.
func Create(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s, err := Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database. Closing a transaction-bound store is a no-op.
func (s *Store) Close() error {
	if s.db == nil || s.inTx {
		return nil
	}
	err := s.db.Close()
	s.db, s.q = nil, nil
	return err
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Logger returns the store logger.
func (s *Store) Logger() *slog.Logger {
	return s.logger
}

func (s *Store) check() error {
	if s == nil || s.q == nil {
		return ErrNotOpen
	}
	return nil
}

// RunTx runs fn with a store bound to a new transaction, committing when fn
// returns nil. Busy errors are retried with a short backoff. Calling RunTx on
// a transaction-bound store runs fn in the existing transaction.
func (s *Store) RunTx(ctx context.Context, fn func(tx *Store) error) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.inTx {
		return fn(s)
	}

	const maxAttempts = 3
	for attempt := 1; ; attempt++ {
		err := s.runTxOnce(ctx, fn)
		if err == nil || !IsBusy(err) || attempt == maxAttempts {
			return err
		}
		s.logger.Debug("database busy, retrying transaction", "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(100*attempt) * time.Millisecond):
		}
	}
}

func (s *Store) runTxOnce(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStore := &Store{db: s.db, q: tx, path: s.path, logger: s.logger, inTx: true}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsBusy reports whether err is an SQLite busy or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
