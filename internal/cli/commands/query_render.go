package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// resultSet is a query result read fully into memory, in column order.
type resultSet struct {
	Columns []string
	Rows    [][]any
}

func scanResultSet(rows *sql.Rows) (*resultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &resultSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range values {
			// TEXT comes back as []byte from some drivers
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// renderResults reads rows and writes them in format.
func renderResults(w io.Writer, rows *sql.Rows, format string) error {
	rs, err := scanResultSet(rows)
	if err != nil {
		return err
	}
	return rs.render(w, format)
}

// renderRows renders positional rows under the given column names.
func renderRows(w io.Writer, format string, cols []string, rows [][]any) error {
	return (&resultSet{Columns: cols, Rows: rows}).render(w, format)
}

func (rs *resultSet) render(w io.Writer, format string) error {
	switch format {
	case "json":
		return renderJSON(w, rs.objects())
	case "csv":
		rs.writeCSV(w)
	case "md", "markdown":
		rs.writeMarkdown(w)
	default:
		rs.writeTable(w)
	}
	return nil
}

// objects returns one map per row keyed by column name. Short rows leave
// trailing columns out.
func (rs *resultSet) objects() []map[string]any {
	out := make([]map[string]any, 0, len(rs.Rows))
	for _, r := range rs.Rows {
		m := make(map[string]any, len(rs.Columns))
		for i, col := range rs.Columns {
			if i < len(r) {
				m[col] = r[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// cells returns row i formatted for text output, padded to the column count.
func (rs *resultSet) cells(i int) []string {
	out := make([]string, len(rs.Columns))
	for j := range out {
		var v any
		if j < len(rs.Rows[i]) {
			v = rs.Rows[i][j]
		}
		out[j] = formatValue(v)
	}
	return out
}

func (rs *resultSet) writeTable(w io.Writer) {
	if len(rs.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(toTableRow(rs.Columns))
	for i := range rs.Rows {
		t.AppendRow(toTableRow(rs.cells(i)))
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rs.Rows))
}

func (rs *resultSet) writeCSV(w io.Writer) {
	_, _ = fmt.Fprintln(w, strings.Join(rs.Columns, ","))
	for i := range rs.Rows {
		cells := rs.cells(i)
		for j := range cells {
			cells[j] = escapeCSV(cells[j])
		}
		_, _ = fmt.Fprintln(w, strings.Join(cells, ","))
	}
}

func (rs *resultSet) writeMarkdown(w io.Writer) {
	if len(rs.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	line := func(cells []string) {
		_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
	line(rs.Columns)
	sep := make([]string, len(rs.Columns))
	for i := range sep {
		sep[i] = "---"
	}
	line(sep)
	for i := range rs.Rows {
		cells := rs.cells(i)
		for j := range cells {
			// patterns often contain pipes
			cells[j] = strings.ReplaceAll(cells[j], "|", `\|`)
		}
		line(cells)
	}
}

func toTableRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

func escapeCSV(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
