package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/leapstack-labs/regexcorpus/internal/cli/config"
	"github.com/leapstack-labs/regexcorpus/internal/cli/output"
	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Out    io.Writer
	Err    io.Writer

	// Styles render status lines on Out, ErrStyles on Err.
	Styles    *output.Styles
	ErrStyles *output.Styles
}

// NewCommandContext collects the loaded config, the logger and the output streams.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	return &CommandContext{
		Cfg:       config.GetConfig(cmd.Context()),
		Logger:    config.GetLogger(cmd.Context()),
		Out:       out,
		Err:       errOut,
		Styles:    output.NewStyles(out),
		ErrStyles: output.NewStyles(errOut),
	}
}

// CorpusPath returns the corpus named by the first positional argument, or
// the configured corpus when there is none.
func (c *CommandContext) CorpusPath(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return c.Cfg.CorpusPath
}

// OpenCorpus opens an existing corpus for writing.
func (c *CommandContext) OpenCorpus(ctx context.Context, path string) (*corpus.Store, error) {
	if err := requireFile(path, "corpus database"); err != nil {
		return nil, err
	}
	return corpus.Open(ctx, path, c.corpusOptions()...)
}

// CreateCorpus opens or creates a corpus and migrates it to the latest schema.
func (c *CommandContext) CreateCorpus(ctx context.Context, path string) (*corpus.Store, error) {
	return corpus.Create(ctx, path, c.corpusOptions()...)
}

// OpenCorpusReadOnly opens an existing corpus without write access.
func (c *CommandContext) OpenCorpusReadOnly(ctx context.Context, path string) (*corpus.Store, error) {
	if err := requireFile(path, "corpus database"); err != nil {
		return nil, err
	}
	return corpus.Open(ctx, path, corpus.WithLogger(c.Logger), corpus.ReadOnly())
}

func (c *CommandContext) corpusOptions() []corpus.Option {
	return []corpus.Option{
		corpus.WithLogger(c.Logger),
		corpus.WithSynchronous(c.Cfg.Synchronous),
	}
}

// requireFile fails with a readable error when path does not exist. SQLite
// would otherwise create an empty database in its place.
func requireFile(path, what string) error {
	if path == ":memory:" {
		return nil
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s not found at %s", what, path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return nil
}

// createOutput opens path for writing, or returns stdout for "-".
func createOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
