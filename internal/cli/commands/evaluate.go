package commands

import (
	"fmt"
	"io"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/leapstack-labs/regexcorpus/internal/dfastore"
	"github.com/leapstack-labs/regexcorpus/internal/evaluate"
	"github.com/leapstack-labs/regexcorpus/internal/testsuite"
	"github.com/spf13/cobra"
)

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand() *cobra.Command {
	var out, testCases, format string

	cmd := &cobra.Command{
		Use:   "evaluate [corpus-db]",
		Short: "Find corpus patterns that behave like each test case",
		Long: `For every test case, check each pattern the same project uses against the
case's positive and negative examples using the compiled DFAs, and report the
patterns that match every positive and no negative.

Test cases are read from --test-cases, or built from the corpus when it is
not given. The report is written as JSON.`,
		Example: `  regexcorpus evaluate --dfas dfas.db -o report.json
  regexcorpus evaluate corpus.db --dfas dfas.db --test-cases suites.ndjson -o -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			ctx := cmd.Context()
			corpusPath := cc.CorpusPath(args)

			store, err := cc.OpenCorpusReadOnly(ctx, corpusPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := requireFile(cc.Cfg.DFAPath, "DFA database"); err != nil {
				return err
			}
			dfas, err := dfastore.Open(ctx, cc.Cfg.DFAPath, dfastore.WithLogger(cc.Logger))
			if err != nil {
				return err
			}
			defer func() { _ = dfas.Close() }()

			if _, err := dfas.CheckFingerprint(ctx, store); err != nil {
				return err
			}

			cases, err := loadTestCases(cmd, store, testCases, format, cc.Cfg.TestSuites.MetacharOnly)
			if err != nil {
				return err
			}

			engine, err := evaluate.New(store, dfas, evaluate.Options{
				CacheSize: cc.Cfg.Evaluate.CacheSize,
				Logger:    cc.Logger,
			})
			if err != nil {
				return err
			}
			results, sum, err := engine.Evaluate(ctx, cases)
			if err != nil {
				return err
			}

			w, err := createOutput(cmd, out)
			if err != nil {
				return err
			}
			report := evaluate.NewReport(corpusPath, cc.Cfg.DFAPath, results, sum)
			if err := report.Write(w); err != nil {
				_ = w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}

			if out != "-" {
				return renderEvaluateSummary(cc.Out, sum, cc.Cfg.OutputFormat)
			}
			return nil
		},
	}

	cmd.Flags().String("dfas", "", "DFA database built by gen-dfas (default from config)")
	cmd.Flags().StringVar(&testCases, "test-cases", "", "Test case file from gen-test-suites")
	cmd.Flags().StringVar(&format, "format", "", "Test case file format (default from extension)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Report file (- for stdout)")
	cmd.Flags().Int("cache-size", 0, "Number of automata kept in memory (default from config)")
	cmd.Flags().Bool("metachar-only", false, "When building test cases, only use patterns with metacharacters")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func loadTestCases(cmd *cobra.Command, store *corpus.Store, path, format string, metacharOnly bool) ([]testsuite.RegexTestCase, error) {
	logger := NewCommandContext(cmd).Logger
	if path == "" {
		rows, err := store.SubjectUsageRows(cmd.Context(), corpus.RowFilter{MetacharOnly: metacharOnly})
		if err != nil {
			return nil, err
		}
		return testsuite.Build(rows, logger), nil
	}

	f := testsuite.FormatForPath(path)
	if format != "" {
		var err error
		if f, err = testsuite.ParseFormat(format); err != nil {
			return nil, err
		}
	}
	var cases []testsuite.RegexTestCase
	err := withInput(cmd, path, func(r io.Reader) error {
		var err error
		cases, err = testsuite.Read(r, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("read test cases", "path", path, "cases", len(cases))
	return cases, nil
}

func renderEvaluateSummary(w io.Writer, sum evaluate.Summary, format string) error {
	if format == "json" {
		return renderJSON(w, sum)
	}
	return renderRows(w, format, []string{"metric", "value"}, [][]any{
		{"test cases", sum.Cases},
		{"cases with matches", sum.CasesMatched},
		{"truth recovered", sum.TruthRecovered},
		{"candidates checked", sum.Candidates},
		{"candidates without DFA", sum.Unevaluable},
		{"match errors", sum.Errors},
		{"matches", sum.Matches},
	})
}
