package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/regexcorpus/internal/cli/config"
	"github.com/spf13/cobra"
)

const starterConfig = `# regexcorpus configuration
corpus: %s
dfa_db: %s
log_level: info
synchronous: NORMAL
dfa:
  max_states: %d
  workers: %d
merge:
  version: %s
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var writeConfig bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty corpus database",
		Long: `Create a corpus database at the given path (or the configured corpus) and
migrate it to the latest schema. Running init on an existing corpus only
applies pending migrations.

Use --write-config to also write a starter regexcorpus.yaml next to it.`,
		Example: `  # Create ./corpus.db
  regexcorpus init

  # Create a corpus and a config file in a new directory
  regexcorpus init data/regexes.db --write-config`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			path := cc.CorpusPath(args)

			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0750); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
			}

			store, err := cc.CreateCorpus(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			version, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cc.Out, cc.Styles.Success.Render(
				fmt.Sprintf("Initialized corpus %s (schema version %d)", path, version)))

			if writeConfig {
				cfgPath, err := writeStarterConfig(filepath.Dir(path), filepath.Base(path), force)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cc.Out, "Wrote %s\n", cfgPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "Write a starter regexcorpus.yaml next to the corpus")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing regexcorpus.yaml")

	return cmd
}

func writeStarterConfig(dir, corpusName string, force bool) (string, error) {
	cfgPath := filepath.Join(dir, "regexcorpus.yaml")
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return "", fmt.Errorf("%s already exists. Use --force to overwrite", cfgPath)
	}
	content := fmt.Sprintf(starterConfig, corpusName, config.DefaultDFAPath,
		config.DefaultMaxStates, config.DefaultWorkers, config.DefaultMergeVer)
	if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", cfgPath, err)
	}
	return cfgPath, nil
}
