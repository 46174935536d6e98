package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/leapstack-labs/regexcorpus/internal/merge"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// CombineOptions holds options for the combine command.
type CombineOptions struct {
	Existing string
	New      string
	Version  string
	Purge    bool
	Confirm  bool
}

// NewCombineCommand creates the combine command.
func NewCombineCommand() *cobra.Command {
	opts := &CombineOptions{}

	cmd := &cobra.Command{
		Use:   "combine <db>...",
		Short: "Merge corpus shards into one database",
		Long: `Merge corpus shards into an accumulator database.

The accumulator is the --new database (created, must not exist), the
--existing database (must exist), or else the first database named. Each shard
is merged in its own transaction: a shard that fails is rolled back, reported
and skipped, and the rest are still merged.

Patterns are matched by (pattern, flags) and projects by repository URL, so
ids in the shards never leak into the accumulator. Plan v1 merges patterns,
projects and usages; v2 also merges processing reports, dependents and line
counts.

--purge deletes every successfully merged shard after asking for
confirmation. Without a terminal, --confirm is required.`,
		Example: `  # Merge shards into the first one
  regexcorpus combine a.db b.db c.db

  # Merge into a fresh database and delete the shards
  regexcorpus combine --new all.db shards/*.db --purge --confirm`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCombine(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Existing, "existing", "", "Merge into this existing database")
	cmd.Flags().StringVar(&opts.New, "new", "", "Merge into this new database")
	cmd.Flags().StringVar(&opts.Version, "version", "", "Merge plan (v1|v2, default from config)")
	cmd.Flags().BoolVar(&opts.Purge, "purge", false, "Delete shards after they merge")
	cmd.Flags().BoolVar(&opts.Confirm, "confirm", false, "Do not ask before purging")
	cmd.MarkFlagsMutuallyExclusive("existing", "new")

	_ = cmd.RegisterFlagCompletionFunc("version", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(merge.V1), string(merge.V2)}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runCombine(cmd *cobra.Command, args []string, opts *CombineOptions) error {
	cc := NewCommandContext(cmd)

	version, err := merge.ParseVersion(cc.Cfg.Merge.Version)
	if err != nil {
		return err
	}

	var confirm merge.ConfirmFunc
	switch {
	case opts.Confirm:
		confirm = func(string) (bool, error) { return true, nil }
	case term.IsTerminal(int(os.Stdin.Fd())):
		confirm = promptConfirm(cmd.InOrStdin(), cc.Err)
	}

	sum, err := merge.Combine(cmd.Context(), merge.CombineOptions{
		Shards:      args,
		Existing:    opts.Existing,
		New:         opts.New,
		Version:     version,
		Purge:       opts.Purge,
		Confirm:     confirm,
		Synchronous: cc.Cfg.Synchronous,
		Logger:      cc.Logger,
	})
	if sum != nil {
		if rerr := renderCombineSummary(cc, sum); rerr != nil && err == nil {
			err = rerr
		}
	}
	if err != nil {
		return err
	}

	if sum.PurgeRefused {
		_, _ = fmt.Fprintln(cc.Err, cc.ErrStyles.Warning.Render(
			"Purge skipped: not confirmed (use --confirm when stdin is not a terminal)"))
	}
	if len(sum.Failed) > 0 {
		return fmt.Errorf("%d of %d shard(s) failed to merge into %s",
			len(sum.Failed), len(sum.Failed)+len(sum.Merged), sum.Accumulator)
	}
	return nil
}

func renderCombineSummary(cc *CommandContext, sum *merge.CombineSummary) error {
	w, format := cc.Out, cc.Cfg.OutputFormat
	if format == "json" {
		return renderJSON(w, sum)
	}

	cols := []string{"shard", "status", "patterns", "projects", "source_usages", "subject_usages", "duration"}
	var rows [][]any
	for _, m := range sum.Merged {
		rows = append(rows, []any{
			m.Shard, "merged",
			m.Rows("insert-patterns"), m.Rows("insert-projects"),
			m.Rows("rekey-source-usages"), m.Rows("rekey-subject-usages"),
			m.Duration.Round(time.Millisecond).String(),
		})
	}
	for _, f := range sum.Failed {
		rows = append(rows, []any{f.Shard, "failed: " + f.Err, nil, nil, nil, nil, nil})
	}
	for _, s := range sum.Skipped {
		rows = append(rows, []any{s, "skipped (accumulator)", nil, nil, nil, nil, nil})
	}

	_, _ = fmt.Fprintf(w, "%s %s\n", cc.Styles.Header.Render("Accumulator:"), sum.Accumulator)
	if err := renderRows(w, format, cols, rows); err != nil {
		return err
	}
	if len(sum.Purged) > 0 {
		_, _ = fmt.Fprintln(w, cc.Styles.Warning.Render(fmt.Sprintf("Deleted %d merged shard(s)", len(sum.Purged))))
	}
	return nil
}

// promptConfirm asks a yes/no question on errOut and reads the answer from in.
func promptConfirm(in io.Reader, errOut io.Writer) merge.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(prompt string) (bool, error) {
		_, _ = fmt.Fprintf(errOut, "%s [y/N] ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
