package commands

import (
	"io"
	"maps"
	"slices"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [corpus-db]",
		Short: "Show corpus row counts",
		Long: `Count the rows of every corpus table and break patterns down by
provenance: seen only in source code, only at runtime, or both. Schema
version 2 corpora also report processing outcomes per status.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			store, err := cc.OpenCorpusReadOnly(cmd.Context(), cc.CorpusPath(args))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return renderStats(cc.Out, st, cc.Cfg.OutputFormat)
		},
	}
}

func renderStats(w io.Writer, st *corpus.Stats, format string) error {
	if format == "json" {
		return renderJSON(w, st)
	}
	rows := [][]any{
		{"patterns", st.Patterns},
		{"  static only", st.StaticOnly},
		{"  dynamic only", st.DynamicOnly},
		{"  both", st.Both},
		{"projects", st.Projects},
		{"source usages", st.SourceUsages},
		{"subject usages", st.SubjectUsages},
	}
	if st.ReportsByState != nil {
		rows = append(rows, []any{"dependents", st.Dependents})
		for _, name := range slices.Sorted(maps.Keys(st.ReportsByState)) {
			rows = append(rows, []any{"status " + name, st.ReportsByState[name]})
		}
	}
	return renderRows(w, format, []string{"metric", "count"}, rows)
}
