package dfastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/regexcorpus/internal/automaton"
	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/leapstack-labs/regexcorpus/internal/workspace"
)

const (
	defaultBatchSize = 1000
	progressEvery    = 10000
)

// BuildOptions configures Build.
type BuildOptions struct {
	// MaxStates is the per-pattern state ceiling. Zero uses automaton.DefaultMaxStates.
	MaxStates int
	// Workers is the number of compiling goroutines. Zero means one.
	Workers int
	// BatchSize is the number of rows written per transaction.
	BatchSize int
	// Force replaces an existing output file.
	Force       bool
	Synchronous string
	Logger      *slog.Logger
}

// BuildSummary describes a Build run.
type BuildSummary struct {
	Output      string             `json:"output"`
	Patterns    int                `json:"patterns"`
	Compiled    int                `json:"compiled"`
	Failed      int                `json:"failed"`
	Failures    map[string]int     `json:"failures,omitempty"`
	Bytes       int64              `json:"bytes"`
	Fingerprint corpus.Fingerprint `json:"fingerprint"`
	Duration    time.Duration      `json:"duration"`
}

type compiled struct {
	id     int64
	data   []byte
	reason string
	err    error
}

// Build compiles every pattern of the corpus at corpusPath and writes the
// automata to a new database at outputPath. Patterns that do not compile are
// logged and counted; they are absent from the output. The output is written
// to a staging directory and only moved into place when complete.
func Build(ctx context.Context, corpusPath, outputPath string, opts BuildOptions) (*BuildSummary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := max(opts.Workers, 1)
	workers = min(workers, runtime.NumCPU()*4)

	if _, err := os.Stat(outputPath); err == nil && !opts.Force {
		return nil, fmt.Errorf("%s: %w", outputPath, ErrExists)
	}

	src, err := corpus.Open(ctx, corpusPath, corpus.ReadOnly(), corpus.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	fp, err := src.Fingerprint(ctx)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(filepath.Dir(outputPath), ".dfas-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	guard := workspace.Acquire(dir, workspace.WithLogger(logger))
	defer func() { _ = guard.Release() }()
	staged := filepath.Join(dir, filepath.Base(outputPath))

	w, err := openWriter(ctx, staged, opts.Synchronous, opts.BatchSize)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	sum := &BuildSummary{Output: outputPath, Failures: make(map[string]int), Fingerprint: fp}
	logger.Info("compiling corpus", "corpus", corpusPath, "patterns", fp.Patterns, "workers", workers)

	err = compileAll(ctx, src, w, workers, automaton.Options{MaxStates: opts.MaxStates}, sum, logger)
	if err == nil {
		err = w.setSource(ctx, corpusPath, fp)
	}
	if err != nil {
		w.abort()
		return nil, err
	}
	if err := w.close(ctx); err != nil {
		return nil, err
	}

	if err := os.Rename(staged, outputPath); err != nil {
		return nil, fmt.Errorf("failed to move dfa database into place: %w", err)
	}
	sum.Duration = time.Since(start)
	logger.Info("compiled corpus",
		"output", outputPath,
		"compiled", sum.Compiled,
		"failed", sum.Failed,
		"bytes", sum.Bytes,
		"duration", sum.Duration,
	)
	return sum, nil
}

// compileAll streams patterns to a pool of compilers and writes results from
// the calling goroutine, so the output database has a single writer.
func compileAll(ctx context.Context, src *corpus.Store, w *writer, workers int,
	base automaton.Options, sum *BuildSummary, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan corpus.Pattern, workers*2)
	results := make(chan compiled, workers*2)

	g.Go(func() error {
		defer close(jobs)
		return src.EachPattern(gctx, func(p corpus.Pattern) error {
			select {
			case jobs <- p:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for p := range jobs {
				opts := base
				opts.Flags = p.Flags
				select {
				case results <- compileOne(p, opts):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		for r := range results {
			sum.Patterns++
			if r.err != nil {
				sum.Failed++
				sum.Failures[r.reason]++
				logger.Warn("failed to compile pattern", "id", r.id, "reason", r.reason, "error", r.err)
			} else {
				if err := w.put(gctx, r.id, r.data); err != nil {
					return err
				}
				sum.Compiled++
				sum.Bytes += int64(len(r.data))
			}
			if sum.Patterns%progressEvery == 0 {
				logger.Info("compile progress", "done", sum.Patterns, "compiled", sum.Compiled)
			}
		}
		return nil
	})

	return g.Wait()
}

func compileOne(p corpus.Pattern, opts automaton.Options) compiled {
	d, err := automaton.Compile(p.Pattern, opts)
	if err != nil {
		return compiled{id: p.ID, reason: failureReason(err), err: err}
	}
	data, err := d.MarshalBinary()
	if err != nil {
		return compiled{id: p.ID, reason: "encode", err: err}
	}
	return compiled{id: p.ID, data: data}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, automaton.ErrTooLarge):
		return "too_large"
	case errors.Is(err, automaton.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, automaton.ErrSyntax):
		return "syntax"
	}
	return "other"
}

// writer owns the only connection to the output database.
type writer struct {
	db      *sql.DB
	conn    *sql.Conn
	batch   int
	pending int
}

func openWriter(ctx context.Context, path, synchronous string, batch int) (*writer, error) {
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if synchronous == "" {
		synchronous = "OFF"
	}
	dsn := "file:" + path + "?_journal_mode=DELETE&_synchronous=" + synchronous
	db, err := sql.Open(corpus.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open dfa database: %w", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open dfa database %s: %w", path, err)
	}
	w := &writer{db: db, conn: conn, batch: batch}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		w.abort()
		return nil, fmt.Errorf("failed to create dfa schema: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		w.abort()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return w, nil
}

// put stores data for regexID in the open batch transaction.
func (w *writer) put(ctx context.Context, regexID int64, data []byte) error {
	if _, err := w.conn.ExecContext(ctx,
		`INSERT INTO dfa_blobs (regex_id, dfa) VALUES (?, ?)`, regexID, data); err != nil {
		return fmt.Errorf("failed to insert automaton %d: %w", regexID, err)
	}

	w.pending++
	if w.pending >= w.batch {
		if _, err := w.conn.ExecContext(ctx, "COMMIT"); err != nil {
			return fmt.Errorf("failed to commit batch: %w", err)
		}
		if _, err := w.conn.ExecContext(ctx, "BEGIN"); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		w.pending = 0
	}
	return nil
}

func (w *writer) setSource(ctx context.Context, corpusPath string, fp corpus.Fingerprint) error {
	abs, err := filepath.Abs(corpusPath)
	if err != nil {
		abs = corpusPath
	}
	values := [][2]string{
		{keyCorpusPath, abs},
		{keyPatterns, strconv.FormatInt(fp.Patterns, 10)},
		{keyMaxID, strconv.FormatInt(fp.MaxID, 10)},
		{keyDigest, fp.Digest},
		{keyBuiltAt, time.Now().UTC().Format(time.RFC3339)},
	}
	for _, kv := range values {
		if _, err := w.conn.ExecContext(ctx,
			`INSERT OR REPLACE INTO dfa_source (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to record build source: %w", err)
		}
	}
	return nil
}

func (w *writer) close(ctx context.Context) error {
	if _, err := w.conn.ExecContext(ctx, "COMMIT"); err != nil {
		w.abort()
		return fmt.Errorf("failed to commit dfa database: %w", err)
	}
	if err := w.conn.Close(); err != nil {
		_ = w.db.Close()
		return fmt.Errorf("failed to close connection: %w", err)
	}
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close dfa database: %w", err)
	}
	return nil
}

func (w *writer) abort() {
	_, _ = w.conn.ExecContext(context.Background(), "ROLLBACK")
	_ = w.conn.Close()
	_ = w.db.Close()
}
