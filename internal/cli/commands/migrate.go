package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	var to int64

	cmd := &cobra.Command{
		Use:   "migrate [corpus-db]",
		Short: "Apply schema migrations to a corpus",
		Long: `Apply pending schema migrations to an existing corpus.

Schema version 1 holds patterns, projects and usages. Version 2 adds
processing reports, dependent projects and line counts. Use --to to stop
at an older version, for example to produce a shard for a v1 merge.`,
		Example: `  regexcorpus migrate
  regexcorpus migrate shard.db --to 1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			ctx := cmd.Context()
			path := cc.CorpusPath(args)

			store, err := cc.OpenCorpus(ctx, path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			before, err := store.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			if to > 0 {
				err = store.MigrateTo(ctx, to)
			} else {
				err = store.Migrate(ctx)
			}
			if err != nil {
				return err
			}
			after, err := store.SchemaVersion(ctx)
			if err != nil {
				return err
			}

			if before == after {
				_, _ = fmt.Fprintln(cc.Out, cc.Styles.Muted.Render(fmt.Sprintf("%s is at schema version %d", path, after)))
				return nil
			}
			_, _ = fmt.Fprintln(cc.Out, cc.Styles.Success.Render(
				fmt.Sprintf("Migrated %s from schema version %d to %d", path, before, after)))
			return nil
		},
	}

	cmd.Flags().Int64Var(&to, "to", 0, "Target schema version (default: latest)")

	return cmd
}
