// Package dfastore persists compiled automata as SQLite blobs keyed by the
// corpus pattern id they were built from.
//
// A DFA database belongs to exactly one corpus snapshot. Build records a
// fingerprint of the corpus pattern table in dfa_source so readers can detect
// a database built from a different snapshot.
package dfastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/leapstack-labs/regexcorpus/internal/automaton"
	"github.com/leapstack-labs/regexcorpus/internal/corpus"
)

// Table and Column name the blob storage.
const (
	Table  = "dfa_blobs"
	Column = "dfa"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS dfa_blobs (
    id       INTEGER PRIMARY KEY,
    regex_id INTEGER NOT NULL UNIQUE,
    dfa      BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS dfa_source (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

// Keys of the dfa_source table.
const (
	keyCorpusPath = "corpus_path"
	keyPatterns   = "patterns"
	keyMaxID      = "max_id"
	keyDigest     = "digest"
	keyBuiltAt    = "built_at"
)

var (
	// ErrExists is returned by Build when the output already exists.
	ErrExists = errors.New("output database already exists")
	// ErrNotDFADatabase is returned by Open for files without a dfa_blobs table.
	ErrNotDFADatabase = errors.New("not a DFA database")
)

// Store reads automata from a DFA database.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Option configures Open.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open opens the DFA database at path read-only.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	dsn, err := corpus.DSN(path, corpus.ReadOnly())
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(corpus.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open dfa database: %w", err)
	}
	s.db = db

	var n int
	err = db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, Table,
	).Scan(&n)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read dfa database %s: %w", path, err)
	}
	if n == 0 {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotDFADatabase)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Count returns the number of stored automata.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, corpus.ErrNotOpen
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM dfa_blobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count automata: %w", err)
	}
	return n, nil
}

// Bytes returns the serialized automaton for regexID. A missing row is
// reported as (nil, false, nil).
func (s *Store) Bytes(ctx context.Context, regexID int64) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, corpus.ErrNotOpen
	}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT dfa FROM dfa_blobs WHERE regex_id = ?`, regexID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read automaton %d: %w", regexID, err)
	}
	return data, true, nil
}

// Load reads and decodes the automaton for regexID. A missing row is
// reported as (nil, false, nil); a row that does not decode is an error.
func (s *Store) Load(ctx context.Context, regexID int64) (*automaton.DFA, bool, error) {
	data, ok, err := s.Bytes(ctx, regexID)
	if err != nil || !ok {
		return nil, ok, err
	}
	d, err := automaton.Load(data)
	if err != nil {
		return nil, true, fmt.Errorf("failed to decode automaton %d: %w", regexID, err)
	}
	return d, true, nil
}

// Source describes the corpus snapshot a DFA database was built from.
type Source struct {
	CorpusPath  string
	BuiltAt     string
	Fingerprint corpus.Fingerprint
}

// Source returns the recorded build source. ok is false for databases built
// without one.
func (s *Store) Source(ctx context.Context) (src Source, ok bool, err error) {
	if s.db == nil {
		return Source{}, false, corpus.ErrNotOpen
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM dfa_source`)
	if err != nil {
		// older databases have no dfa_source table
		s.logger.Debug("no build source recorded", "path", s.path, "error", err)
		return Source{}, false, nil
	}
	defer func() { _ = rows.Close() }()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Source{}, false, fmt.Errorf("failed to scan build source: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return Source{}, false, fmt.Errorf("failed to read build source: %w", err)
	}
	digest, ok := values[keyDigest]
	if !ok {
		return Source{}, false, nil
	}

	src = Source{CorpusPath: values[keyCorpusPath], BuiltAt: values[keyBuiltAt]}
	src.Fingerprint.Digest = digest
	if src.Fingerprint.Patterns, err = strconv.ParseInt(values[keyPatterns], 10, 64); err != nil {
		return Source{}, false, fmt.Errorf("invalid pattern count in build source: %w", err)
	}
	if src.Fingerprint.MaxID, err = strconv.ParseInt(values[keyMaxID], 10, 64); err != nil {
		return Source{}, false, fmt.Errorf("invalid max id in build source: %w", err)
	}
	return src, true, nil
}

// CheckFingerprint compares the recorded build source with c. A mismatch or
// a missing record is logged as a warning and reported as false; it is never
// an error.
func (s *Store) CheckFingerprint(ctx context.Context, c *corpus.Store) (bool, error) {
	want, err := c.Fingerprint(ctx)
	if err != nil {
		return false, err
	}
	src, ok, err := s.Source(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Warn("dfa database has no corpus fingerprint, cannot check staleness", "dfas", s.path)
		return false, nil
	}
	if src.Fingerprint != want {
		s.logger.Warn("dfa database was built from a different corpus snapshot",
			"dfas", s.path,
			"corpus", c.Path(),
			"built_from", src.CorpusPath,
			"built_patterns", src.Fingerprint.Patterns,
			"corpus_patterns", want.Patterns,
		)
		return false, nil
	}
	return true, nil
}
