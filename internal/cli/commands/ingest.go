package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/leapstack-labs/regexcorpus/internal/extraction"
	"github.com/spf13/cobra"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand() *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "ingest <results.ndjson>...",
		Short: "Load extraction results into the corpus",
		Long: `Read newline-delimited extraction results and store each project's
regexes, runtime usages, dependents, processing report and line counts in the
corpus. Each project is written in its own transaction. Use "-" to read
from stdin.

Lines that do not decode or lack a repository or status, and inputs that
cannot be opened, are logged and skipped; the rest are still ingested and the
command exits non-zero at the end. A failure writing the corpus stops the run.`,
		Example: `  regexcorpus ingest results/*.ndjson
  extractor | regexcorpus ingest --corpus shard-3.db --create -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			ctx := cmd.Context()
			path := cc.Cfg.CorpusPath

			var store *corpus.Store
			var err error
			if create {
				store, err = cc.CreateCorpus(ctx, path)
			} else {
				store, err = cc.OpenCorpus(ctx, path)
			}
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var total corpus.SaveSummary
			projects, skipped := 0, 0
			skip := extraction.SkipInvalid(func(_ int, err error) {
				skipped++
				cc.Logger.Warn("skipping extraction result", "error", err)
			})
			for _, name := range args {
				err := withInput(cmd, name, func(r io.Reader) error {
					return extraction.ReadResults(r, func(res extraction.Result) error {
						sum, err := store.SaveExtraction(ctx, res)
						if err != nil {
							return fmt.Errorf("failed to save %s: %w", res.Project.Repo, err)
						}
						projects++
						total.SourceUsages += sum.SourceUsages
						total.Usages += sum.Usages
						total.Dependents += sum.Dependents
						cc.Logger.Debug("ingested project",
							"repo", res.Project.Repo,
							"project_id", sum.ProjectID,
							"regexes", sum.SourceUsages,
							"usages", sum.Usages,
						)
						return nil
					}, skip)
				})
				var openErr *inputError
				switch {
				case errors.As(err, &openErr):
					skipped++
					cc.Logger.Warn("skipping input", "input", name, "error", openErr.err)
				case err != nil:
					return fmt.Errorf("%s: %w", name, err)
				}
			}

			_, _ = fmt.Fprintln(cc.Out, cc.Styles.Success.Render(fmt.Sprintf(
				"Ingested %d projects: %d regexes, %d usages, %d dependents",
				projects, total.SourceUsages, total.Usages, total.Dependents)))
			if skipped > 0 {
				_, _ = fmt.Fprintln(cc.Err, cc.ErrStyles.Warning.Render(fmt.Sprintf(
					"Skipped %d invalid result(s) or unreadable input(s)", skipped)))
				return fmt.Errorf("%d extraction result(s) or input(s) skipped", skipped)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "Create and migrate the corpus if it does not exist")

	return cmd
}

// inputError is an input file that could not be opened.
type inputError struct{ err error }

func (e *inputError) Error() string { return e.err.Error() }

// withInput opens name, or stdin for "-", and hands it to fn.
func withInput(cmd *cobra.Command, name string, fn func(io.Reader) error) error {
	if name == "-" {
		return fn(cmd.InOrStdin())
	}
	f, err := os.Open(name)
	if err != nil {
		return &inputError{fmt.Errorf("failed to open: %w", err)}
	}
	defer func() { _ = f.Close() }()
	return fn(f)
}
