package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
)

// StepResult is the row count one step changed.
type StepResult struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// Summary describes one merged shard.
type Summary struct {
	Shard    string        `json:"shard"`
	Version  Version       `json:"version"`
	Steps    []StepResult  `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// Rows returns the rows changed by the named step, or 0.
func (s Summary) Rows(step string) int64 {
	for _, r := range s.Steps {
		if r.Name == step {
			return r.Rows
		}
	}
	return 0
}

// StepError reports which step of a plan failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("merge step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Merge folds the shard at shardPath into the accumulator database at
// accumulatorPath. The accumulator schema is brought up to date first.
func Merge(ctx context.Context, accumulatorPath, shardPath string, version Version, logger *slog.Logger) (Summary, error) {
	acc, err := corpus.Create(ctx, accumulatorPath, corpus.WithLogger(logger))
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = acc.Close() }()
	return MergeStore(ctx, acc, shardPath, version)
}

// MergeStore folds the shard at shardPath into an open accumulator.
func MergeStore(ctx context.Context, acc *corpus.Store, shardPath string, version Version) (Summary, error) {
	if acc.DB() == nil {
		return Summary{}, corpus.ErrNotOpen
	}
	// ATTACH would silently create a missing file.
	if _, err := os.Stat(shardPath); err != nil {
		return Summary{}, fmt.Errorf("failed to stat shard: %w", err)
	}
	conn, err := acc.DB().Conn(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return MergeConn(ctx, conn, shardPath, version, acc.Logger())
}

// MergeConn attaches the shard to conn, runs the version's plan inside one
// transaction and detaches. A failing step rolls back every step of the shard.
func MergeConn(ctx context.Context, conn *sql.Conn, shardPath string, version Version, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	steps, err := PlanFor(version)
	if err != nil {
		return Summary{}, err
	}

	start := time.Now()
	// ATTACH is not allowed inside a transaction.
	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS "+ShardSchema, shardPath); err != nil {
		return Summary{}, fmt.Errorf("failed to attach %s: %w", shardPath, err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "DETACH DATABASE "+ShardSchema); err != nil {
			logger.Warn("failed to detach shard", "shard", shardPath, "error", err)
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to begin merge transaction: %w", err)
	}

	results, err := RunPlan(ctx, tx, steps, logger)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Warn("rollback failed", "shard", shardPath, "error", rbErr)
		}
		return Summary{}, fmt.Errorf("failed to merge %s: %w", shardPath, err)
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("failed to commit merge of %s: %w", shardPath, err)
	}

	sum := Summary{Shard: shardPath, Version: version, Steps: results, Duration: time.Since(start)}
	logger.Info("merged shard", "shard", shardPath, "version", version,
		"patterns", sum.Rows("insert-patterns"), "projects", sum.Rows("insert-projects"),
		"duration", sum.Duration)
	return sum, nil
}

// RunPlan executes steps in order and stops at the first failure.
func RunPlan(ctx context.Context, q Execer, steps []Step, logger *slog.Logger) ([]StepResult, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := step.Run(ctx, q)
		if err != nil {
			return nil, &StepError{Step: step.Name, Err: err}
		}
		logger.Debug("merge step done", "step", step.Name, "rows", n)
		results = append(results, StepResult{Name: step.Name, Rows: n})
	}
	return results, nil
}
