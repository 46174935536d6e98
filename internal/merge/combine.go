package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
)

var (
	// ErrNoShards is returned when there is nothing to merge.
	ErrNoShards = errors.New("no databases to combine")
	// ErrAccumulatorConflict is returned when both --new and --existing are set.
	ErrAccumulatorConflict = errors.New("only one of new and existing may be set")
)

// ConfirmFunc asks whether to go ahead with a destructive action.
type ConfirmFunc func(prompt string) (bool, error)

// CombineOptions configures Combine.
type CombineOptions struct {
	// Shards are the databases to merge, in order.
	Shards []string
	// Existing names an accumulator that must already exist.
	Existing string
	// New names an accumulator that must not exist yet.
	New string
	// Version selects the merge plan.
	Version Version
	// Purge deletes every successfully merged shard.
	Purge bool
	// Confirm is asked before purging. A nil Confirm refuses.
	Confirm     ConfirmFunc
	Synchronous string
	Logger      *slog.Logger
}

// ShardFailure records a shard that could not be merged.
type ShardFailure struct {
	Shard string `json:"shard"`
	Err   string `json:"error"`
}

// CombineSummary describes a Combine run.
type CombineSummary struct {
	Accumulator  string         `json:"accumulator"`
	Merged       []Summary      `json:"merged"`
	Skipped      []string       `json:"skipped,omitempty"`
	Failed       []ShardFailure `json:"failed,omitempty"`
	Purged       []string       `json:"purged,omitempty"`
	PurgeRefused bool           `json:"purge_refused,omitempty"`
}

// Combine merges every shard into one accumulator. The accumulator is the
// New path, the Existing path, or else the first shard. Per-shard failures are
// logged and recorded; only storage errors on the accumulator stop the run.
func Combine(ctx context.Context, opts CombineOptions) (*CombineSummary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}
	if _, err := PlanFor(version); err != nil {
		return nil, err
	}

	accPath, shards, err := selectAccumulator(opts)
	if err != nil {
		return nil, err
	}

	storeOpts := []corpus.Option{corpus.WithLogger(logger)}
	if opts.Synchronous != "" {
		storeOpts = append(storeOpts, corpus.WithSynchronous(opts.Synchronous))
	}
	acc, err := corpus.Create(ctx, accPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open accumulator %s: %w", accPath, err)
	}
	defer func() { _ = acc.Close() }()

	sum := &CombineSummary{Accumulator: accPath}
	accAbs := absPath(accPath)
	for i, shard := range shards {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if absPath(shard) == accAbs {
			logger.Info("skipping accumulator", "path", shard)
			sum.Skipped = append(sum.Skipped, shard)
			continue
		}
		logger.Info("merging shard", "shard", shard, "n", i+1, "of", len(shards))
		ms, err := MergeStore(ctx, acc, shard, version)
		if err != nil {
			logger.Warn("failed to merge shard", "shard", shard, "error", err)
			sum.Failed = append(sum.Failed, ShardFailure{Shard: shard, Err: err.Error()})
			continue
		}
		sum.Merged = append(sum.Merged, ms)
	}
	logger.Info("combine finished", "accumulator", accPath,
		"merged", len(sum.Merged), "failed", len(sum.Failed))

	if opts.Purge && len(sum.Merged) > 0 {
		if err := purge(sum, opts.Confirm, logger); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func selectAccumulator(opts CombineOptions) (string, []string, error) {
	switch {
	case opts.New != "" && opts.Existing != "":
		return "", nil, ErrAccumulatorConflict
	case opts.New != "":
		if _, err := os.Stat(opts.New); err == nil {
			return "", nil, fmt.Errorf("accumulator %s already exists", opts.New)
		}
		if len(opts.Shards) == 0 {
			return "", nil, ErrNoShards
		}
		return opts.New, opts.Shards, nil
	case opts.Existing != "":
		if _, err := os.Stat(opts.Existing); err != nil {
			return "", nil, fmt.Errorf("accumulator %s: %w", opts.Existing, err)
		}
		if len(opts.Shards) == 0 {
			return "", nil, ErrNoShards
		}
		return opts.Existing, opts.Shards, nil
	}
	if len(opts.Shards) < 2 {
		return "", nil, ErrNoShards
	}
	return opts.Shards[0], opts.Shards[1:], nil
}

func purge(sum *CombineSummary, confirm ConfirmFunc, logger *slog.Logger) error {
	ok := false
	if confirm != nil {
		var err error
		ok, err = confirm(fmt.Sprintf("Delete %d merged database file(s)?", len(sum.Merged)))
		if err != nil {
			return fmt.Errorf("failed to confirm purge: %w", err)
		}
	}
	if !ok {
		logger.Warn("purge not confirmed, keeping merged databases")
		sum.PurgeRefused = true
		return nil
	}

	for _, m := range sum.Merged {
		if err := removeDatabase(m.Shard); err != nil {
			logger.Warn("failed to delete shard", "shard", m.Shard, "error", err)
			continue
		}
		logger.Info("deleted shard", "shard", m.Shard)
		sum.Purged = append(sum.Purged, m.Shard)
	}
	return nil
}

// removeDatabase deletes a database file and its WAL sidecars.
func removeDatabase(path string) error {
	if err := os.Remove(path); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}
