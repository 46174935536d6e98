package commands

import (
	"fmt"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/leapstack-labs/regexcorpus/internal/testsuite"
	"github.com/spf13/cobra"
)

// NewGenTestSuitesCommand creates the gen-test-suites command.
func NewGenTestSuitesCommand() *cobra.Command {
	var out, format string
	var projectID int64

	cmd := &cobra.Command{
		Use:   "gen-test-suites [corpus-db]",
		Short: "Build regex test cases from runtime usages",
		Long: `Group the runtime subjects each project matched against each pattern into
test cases. Every subject the pattern matches becomes a positive example and
every other subject a negative one. Patterns Go's regexp cannot compile are
reported and skipped.

The format follows --format, or else the output file extension
(.json, .ndjson/.jsonl, .yaml/.yml). Use "-o -" for stdout.`,
		Example: `  regexcorpus gen-test-suites -o suites.json
  regexcorpus gen-test-suites big.db -o suites.ndjson --metachar-only`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			ctx := cmd.Context()

			f := testsuite.FormatForPath(out)
			if format != "" {
				var err error
				if f, err = testsuite.ParseFormat(format); err != nil {
					return err
				}
			}

			store, err := cc.OpenCorpusReadOnly(ctx, cc.CorpusPath(args))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rows, err := store.SubjectUsageRows(ctx, corpus.RowFilter{
				MetacharOnly: cc.Cfg.TestSuites.MetacharOnly,
				ProjectID:    projectID,
			})
			if err != nil {
				return err
			}
			cases := testsuite.Build(rows, cc.Logger)

			w, err := createOutput(cmd, out)
			if err != nil {
				return err
			}
			if err := testsuite.Write(w, cases, f); err != nil {
				_ = w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}

			examples := 0
			for i := range cases {
				examples += cases[i].TotalExamples()
			}
			cc.Logger.Info("wrote test cases", "path", out, "cases", len(cases), "examples", examples, "format", f)
			if out != "-" {
				_, _ = fmt.Fprintf(cc.Out, "Wrote %d test cases (%d examples) to %s\n", len(cases), examples, out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (- for stdout)")
	cmd.Flags().StringVar(&format, "format", "", "Output format: json, ndjson, yaml")
	cmd.Flags().Bool("metachar-only", false, "Only use patterns containing regex metacharacters")
	cmd.Flags().Int64Var(&projectID, "project", 0, "Only build test cases for this project id")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}
