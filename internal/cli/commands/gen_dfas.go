package commands

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/leapstack-labs/regexcorpus/internal/dfastore"
	"github.com/spf13/cobra"
)

// NewGenDFAsCommand creates the gen-dfas command.
func NewGenDFAsCommand() *cobra.Command {
	var force bool
	var batchSize int

	cmd := &cobra.Command{
		Use:   "gen-dfas [corpus-db] [output-db]",
		Short: "Compile every corpus pattern into a DFA store",
		Long: `Compile every pattern of the corpus into a deterministic automaton and
store the serialized automata in a separate database, keyed by pattern id.

Patterns that cannot be compiled (syntax the engine does not support, or
automata larger than --max-states) are reported and left out. The output is
built in a staging directory and only moved into place when complete, together
with a fingerprint of the corpus it was built from.`,
		Example: `  regexcorpus gen-dfas corpus.db dfas.db --workers 8
  regexcorpus gen-dfas --max-states 2000 --force`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			corpusPath := cc.CorpusPath(args)
			output := cc.Cfg.DFAPath
			if len(args) > 1 {
				output = args[1]
			}
			if err := requireFile(corpusPath, "corpus database"); err != nil {
				return err
			}

			sum, err := dfastore.Build(cmd.Context(), corpusPath, output, dfastore.BuildOptions{
				MaxStates:   cc.Cfg.DFA.MaxStates,
				Workers:     cc.Cfg.DFA.Workers,
				BatchSize:   batchSize,
				Force:       force,
				Synchronous: cc.Cfg.Synchronous,
				Logger:      cc.Logger,
			})
			if err != nil {
				return err
			}
			return renderBuildSummary(cc.Out, sum, cc.Cfg.OutputFormat)
		},
	}

	cmd.Flags().Int("max-states", 0, "Per-pattern DFA state ceiling (default from config)")
	cmd.Flags().Int("workers", 0, "Number of compile workers (default from config)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows written per transaction (default 1000)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing output database")

	return cmd
}

func renderBuildSummary(w io.Writer, sum *dfastore.BuildSummary, format string) error {
	if format == "json" {
		return renderJSON(w, sum)
	}
	rows := [][]any{
		{"output", sum.Output},
		{"patterns", sum.Patterns},
		{"compiled", sum.Compiled},
		{"failed", sum.Failed},
	}
	for _, reason := range slices.Sorted(maps.Keys(sum.Failures)) {
		rows = append(rows, []any{"failed: " + reason, sum.Failures[reason]})
	}
	rows = append(rows,
		[]any{"bytes", sum.Bytes},
		[]any{"corpus digest", sum.Fingerprint.Digest},
		[]any{"duration", sum.Duration.Round(time.Millisecond).String()},
	)
	if err := renderRows(w, format, []string{"metric", "value"}, rows); err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}
	return nil
}
