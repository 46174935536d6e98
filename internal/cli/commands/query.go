package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	// pure-Go sqlite driver for read-only ad hoc queries.
	_ "modernc.org/sqlite"
)

// openDBReadOnly opens a database in read-only mode.
func openDBReadOnly(path string) (*sql.DB, error) {
	return sql.Open("sqlite", "file:"+path+"?mode=ro")
}

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Format   string
	Input    string
	Database string
	Limit    int
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Query the corpus database",
		Long: `Run read-only SQL against the corpus (or any other regexcorpus database
given with --db, such as a DFA store).

When invoked without arguments on a terminal, enters interactive REPL mode.`,
		Example: `  # Execute SQL directly
  regexcorpus query "SELECT count(*) FROM pattern WHERE static = 1"

  # List available tables
  regexcorpus query tables

  # Show schema for a table
  regexcorpus query schema subject_usage

  # Find patterns containing a substring
  regexcorpus query patterns "[0-9]"

  # Output as JSON
  regexcorpus query "SELECT * FROM project LIMIT 5" --format json

  # Interactive mode
  regexcorpus query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	// Flags
	cmd.PersistentFlags().StringVarP(&opts.Format, "format", "f", "", "Output format: table, json, csv, md (default from config)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "Database to query (default: the corpus)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")

	// Subcommands
	cmd.AddCommand(newQueryTablesCommand(opts))
	cmd.AddCommand(newQuerySchemaCommand(opts))
	cmd.AddCommand(newQueryPatternsCommand(opts))

	return cmd
}

// resolve fills in the database path and output format from config.
func (o *QueryOptions) resolve(cmd *cobra.Command) (dbPath, format string, err error) {
	cc := NewCommandContext(cmd)
	dbPath = o.Database
	if dbPath == "" {
		dbPath = cc.Cfg.CorpusPath
	}
	format = o.Format
	if format == "" {
		format = cc.Cfg.OutputFormat
	}
	if err := requireFile(dbPath, "database"); err != nil {
		return "", "", err
	}
	return dbPath, format, nil
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	dbPath, format, err := opts.resolve(cmd)
	if err != nil {
		return err
	}

	sqlQuery, err := readSQL(cmd, args, opts.Input)
	if err != nil {
		return err
	}
	if sqlQuery == "" {
		return runQueryREPL(cmd, dbPath, format)
	}

	db, err := openDBReadOnly(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return executeAndRenderQuery(cmd.Context(), cmd, db, sqlQuery, format)
}

// readSQL returns the statement from args, the --input file or piped stdin,
// in that order. It returns "" when stdin is a terminal and nothing else was
// given.
func readSQL(cmd *cobra.Command, args []string, input string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if input != "" {
		b, err := os.ReadFile(input)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(b), nil
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", errors.New("no SQL given")
	}
	return string(b), nil
}

// newQueryTablesCommand creates the tables subcommand.
func newQueryTablesCommand(opts *QueryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List all tables and views",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbPath, format, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return listTables(cmd, dbPath, format, false)
		},
	}
}

// newQuerySchemaCommand creates the schema subcommand.
func newQuerySchemaCommand(opts *QueryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <table>",
		Short: "Show schema for a table or view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, format, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return showSchema(cmd, dbPath, args[0], format)
		},
	}
}

// newQueryPatternsCommand creates the patterns subcommand.
func newQueryPatternsCommand(opts *QueryOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns <substring>",
		Short: "Find patterns containing a substring",
		Long: `List corpus patterns whose text contains the substring, with their
provenance and the number of projects using them.`,
		Example: `  regexcorpus query patterns "\d{4}"
  regexcorpus query patterns "@" --limit 10 --format csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, format, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return searchPatterns(cmd, dbPath, args[0], format, opts.Limit)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of patterns")
	return cmd
}

func searchPatterns(cmd *cobra.Command, dbPath, term, format string, limit int) error {
	db, err := openDBReadOnly(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return searchPatternsInDB(cmd.Context(), cmd.OutOrStdout(), db, term, format, limit)
}

func searchPatternsInDB(ctx context.Context, w io.Writer, db *sql.DB, term, format string, limit int) error {
	query := `
		SELECT
			p.id,
			p.pattern,
			p.flags,
			p.static,
			p.dynamic,
			(SELECT count(DISTINCT project_id) FROM source_usage WHERE pattern_id = p.id) AS source_projects,
			(SELECT count(DISTINCT project_id) FROM subject_usage WHERE pattern_id = p.id) AS runtime_projects
		FROM pattern p
		WHERE instr(p.pattern, ?) > 0
		ORDER BY p.id
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, term, limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return renderResults(w, rows, format)
}
