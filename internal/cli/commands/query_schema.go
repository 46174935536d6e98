package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// hiddenTable reports whether a table is bookkeeping rather than corpus data.
func hiddenTable(name string) bool {
	return strings.HasPrefix(name, "sqlite_") || strings.HasPrefix(name, "goose_")
}

func listTables(cmd *cobra.Command, dbPath, format string, viewsOnly bool) error {
	db, err := openDBReadOnly(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return listTablesFromDB(cmd.Context(), cmd.OutOrStdout(), db, format, viewsOnly)
}

// listTablesFromDB lists user tables and views with their row counts.
func listTablesFromDB(ctx context.Context, w io.Writer, db *sql.DB, format string, viewsOnly bool) error {
	kinds := []any{"table", "view"}
	if viewsOnly {
		kinds = []any{"view"}
	}
	q := `SELECT name, type FROM sqlite_master WHERE type IN (?` + strings.Repeat(", ?", len(kinds)-1) + `) ORDER BY type, name`
	rows, err := db.QueryContext(ctx, q, kinds...)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	type object struct{ name, kind string }
	var objects []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.name, &o.kind); err != nil {
			_ = rows.Close()
			return err
		}
		if !hiddenTable(o.name) {
			objects = append(objects, o)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	out := make([][]any, 0, len(objects))
	for _, o := range objects {
		n, err := countRows(ctx, db, o.name)
		if err != nil {
			return err
		}
		out = append(out, []any{o.name, o.kind, n})
	}
	return renderRows(w, format, []string{"name", "type", "rows"}, out)
}

func countRows(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %q", table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

type schemaColumn struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
}

type schemaIndex struct {
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Columns []string `json:"columns"`
}

// tableSchema describes one table or view.
type tableSchema struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Rows    int64          `json:"rows"`
	Columns []schemaColumn `json:"columns"`
	Indexes []schemaIndex  `json:"indexes,omitempty"`
}

func showSchema(cmd *cobra.Command, dbPath, name, format string) error {
	db, err := openDBReadOnly(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return showSchemaFromDB(cmd.Context(), cmd.OutOrStdout(), db, name, format)
}

func showSchemaFromDB(ctx context.Context, w io.Writer, db *sql.DB, name, format string) error {
	s, err := describeTable(ctx, db, name)
	if err != nil {
		return err
	}
	if format == "json" {
		return renderJSON(w, s)
	}
	s.write(w)
	return nil
}

func describeTable(ctx context.Context, db *sql.DB, name string) (*tableSchema, error) {
	s := &tableSchema{Name: name}
	err := db.QueryRowContext(ctx,
		`SELECT type FROM sqlite_master WHERE name = ? AND type IN ('table', 'view')`, name).Scan(&s.Type)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("table or view %q not found", name)
	}
	if err != nil {
		return nil, err
	}

	// PRAGMA table_info: cid, name, type, notnull, dflt_value, pk
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", name))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", name, err)
	}
	for rows.Next() {
		var (
			cid, notNull, pk int
			c                schemaColumn
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			_ = rows.Close()
			return nil, err
		}
		c.NotNull, c.PrimaryKey = notNull != 0, pk > 0
		s.Columns = append(s.Columns, c)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.Type == "table" {
		if s.Indexes, err = tableIndexes(ctx, db, name); err != nil {
			return nil, err
		}
	}
	if s.Rows, err = countRows(ctx, db, name); err != nil {
		return nil, err
	}
	return s, nil
}

func tableIndexes(ctx context.Context, db *sql.DB, table string) ([]schemaIndex, error) {
	// PRAGMA index_list: seq, name, unique, origin, partial
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%q)", table))
	if err != nil {
		return nil, err
	}
	var idx []schemaIndex
	for rows.Next() {
		var (
			seq, unique, partial int
			ix                   schemaIndex
			origin               string
		)
		if err := rows.Scan(&seq, &ix.Name, &unique, &origin, &partial); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ix.Unique = unique != 0
		idx = append(idx, ix)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range idx {
		cols, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%q)", idx[i].Name))
		if err != nil {
			return nil, err
		}
		for cols.Next() {
			var seqno, cid int
			var col sql.NullString
			if err := cols.Scan(&seqno, &cid, &col); err != nil {
				_ = cols.Close()
				return nil, err
			}
			if col.Valid {
				idx[i].Columns = append(idx[i].Columns, col.String)
			}
		}
		_ = cols.Close()
	}
	return idx, nil
}

func (s *tableSchema) write(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Table: %s (%s, %d rows)\n\n", s.Name, s.Type, s.Rows)

	width := 0
	for _, c := range s.Columns {
		width = max(width, len(c.Name))
	}
	for _, c := range s.Columns {
		var notes []string
		if c.NotNull {
			notes = append(notes, "not null")
		}
		if c.PrimaryKey {
			notes = append(notes, "(primary key)")
		}
		_, _ = fmt.Fprintf(w, "  %-*s  %-8s %s\n", width, c.Name, c.Type, strings.Join(notes, " "))
	}

	if len(s.Indexes) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nIndexes:")
	for _, ix := range s.Indexes {
		kind := "index"
		if ix.Unique {
			kind = "unique"
		}
		_, _ = fmt.Fprintf(w, "  %s  %s (%s)\n", ix.Name, kind, strings.Join(ix.Columns, ", "))
	}
}
