package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const (
	replPrompt = "regexcorpus> "
	contPrompt = "    ...> "
)

// querySession holds the state of one interactive query session.
type querySession struct {
	ctx    context.Context
	db     *sql.DB
	out    io.Writer
	errOut io.Writer
	format string

	// pending holds an unterminated SQL statement.
	pending strings.Builder
}

// dotCommand is a REPL command beginning with a dot.
type dotCommand struct {
	name  string
	usage string
	help  string
	// tables enables table-name completion for the argument.
	tables bool
	run    func(s *querySession, arg string) error
}

var errQuit = errors.New("quit")

// dotCommands is filled in init since .help lists it.
var dotCommands []dotCommand

func init() {
	dotCommands = []dotCommand{
		{name: ".help", help: "Show this help message", run: func(s *querySession, _ string) error {
			s.printHelp()
			return nil
		}},
		{name: ".tables", help: "List tables and views with row counts", run: func(s *querySession, _ string) error {
			return listTablesFromDB(s.ctx, s.out, s.db, s.format, false)
		}},
		{name: ".schema", usage: "<table>", help: "Show columns and indexes of a table", tables: true,
			run: func(s *querySession, arg string) error {
				return showSchemaFromDB(s.ctx, s.out, s.db, arg, s.format)
			}},
		{name: ".patterns", usage: "<substring>", help: "Find patterns containing a substring",
			run: func(s *querySession, arg string) error {
				return searchPatternsInDB(s.ctx, s.out, s.db, arg, s.format, 50)
			}},
		{name: ".format", usage: "<table|json|csv|md>", help: "Change the output format",
			run: func(s *querySession, arg string) error {
				switch arg {
				case "table", "json", "csv", "md", "markdown":
					s.format = arg
					return nil
				}
				return fmt.Errorf("unknown format %q", arg)
			}},
		{name: ".clear", help: "Clear the screen", run: func(s *querySession, _ string) error {
			_, _ = fmt.Fprint(s.out, "\033[H\033[2J")
			return nil
		}},
		{name: ".quit", help: "Exit (also .exit or Ctrl-D)", run: func(*querySession, string) error {
			return errQuit
		}},
		{name: ".exit", run: func(*querySession, string) error { return errQuit }},
	}
}

func lookupDotCommand(name string) (dotCommand, bool) {
	for _, dc := range dotCommands {
		if dc.name == name {
			return dc, true
		}
	}
	return dotCommand{}, false
}

func runQueryREPL(cmd *cobra.Command, dbPath, format string) error {
	db, err := openDBReadOnly(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	s := &querySession{
		ctx:    cmd.Context(),
		db:     db,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		format: format,
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     filepath.Join(filepath.Dir(dbPath), ".regexcorpus_history"),
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(s.out, "regexcorpus query REPL (%s, read-only)\nType .help for commands, .quit to exit\n\n", dbPath)

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			s.pending.Reset()
			rl.SetPrompt(replPrompt)
			continue
		case err != nil:
			return nil
		}
		if s.handleLine(line) {
			return nil
		}
		if s.pending.Len() > 0 {
			rl.SetPrompt(contPrompt)
		} else {
			rl.SetPrompt(replPrompt)
		}
	}
}

// handleLine processes one line of input and reports whether the session
// should end. SQL accumulates across lines until a terminating semicolon.
func (s *querySession) handleLine(line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if s.pending.Len() == 0 && strings.HasPrefix(line, ".") {
		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		dc, ok := lookupDotCommand(strings.ToLower(name))
		switch {
		case !ok:
			_, _ = fmt.Fprintf(s.errOut, "Unknown command: %s (type .help for commands)\n", name)
		case dc.usage != "" && arg == "":
			_, _ = fmt.Fprintf(s.errOut, "Usage: %s %s\n", dc.name, dc.usage)
		default:
			err := dc.run(s, arg)
			if errors.Is(err, errQuit) {
				return true
			}
			if err != nil {
				_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
			}
		}
		return false
	}

	s.pending.WriteString(line)
	if !strings.HasSuffix(line, ";") {
		s.pending.WriteByte('\n')
		return false
	}
	query := strings.TrimSuffix(s.pending.String(), ";")
	s.pending.Reset()

	if err := s.exec(query); err != nil {
		_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
	}
	_, _ = fmt.Fprintln(s.out)
	return false
}

func (s *querySession) exec(query string) error {
	rows, err := s.db.QueryContext(s.ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	return renderResults(s.out, rows, s.format)
}

// executeAndRenderQuery runs one statement and writes its result to cmd's output.
func executeAndRenderQuery(ctx context.Context, cmd *cobra.Command, db *sql.DB, query, format string) error {
	s := &querySession{ctx: ctx, db: db, out: cmd.OutOrStdout(), format: format}
	return s.exec(query)
}

func (s *querySession) printHelp() {
	_, _ = fmt.Fprintln(s.out, "\nCommands:")
	for _, dc := range dotCommands {
		if dc.help == "" {
			continue
		}
		_, _ = fmt.Fprintf(s.out, "  %-32s %s\n", strings.TrimSpace(dc.name+" "+dc.usage), dc.help)
	}
	_, _ = fmt.Fprint(s.out, `
SQL statements end with a semicolon and may span lines.
Tab completes commands and table names.

`)
}

// completer offers dot commands, with table names after .schema, plus bare
// table names for SQL.
func (s *querySession) completer() *readline.PrefixCompleter {
	var tables []string
	if rows, err := s.db.QueryContext(s.ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') ORDER BY name`); err == nil {
		for rows.Next() {
			var name string
			if rows.Scan(&name) == nil && !hiddenTable(name) {
				tables = append(tables, name)
			}
		}
		_ = rows.Close()
	}

	tableItems := func() []readline.PrefixCompleterInterface {
		items := make([]readline.PrefixCompleterInterface, 0, len(tables))
		for _, t := range tables {
			items = append(items, readline.PcItem(t))
		}
		return items
	}

	items := tableItems()
	for _, dc := range dotCommands {
		if dc.tables {
			items = append(items, readline.PcItem(dc.name, tableItems()...))
		} else {
			items = append(items, readline.PcItem(dc.name))
		}
	}
	return readline.NewPrefixCompleter(items...)
}
