package commands

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/leapstack-labs/regexcorpus/internal/extraction"
	"github.com/leapstack-labs/regexcorpus/internal/status"
)

// setupTestCorpus creates a corpus with two projects and a handful of patterns.
func setupTestCorpus(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "corpus.db")
	ctx := context.Background()
	store, err := corpus.Create(ctx, path)
	require.NoError(t, err)

	for _, res := range []extraction.Result{
		{
			Project: extraction.PackageSpec{Name: "a", Repo: "https://github.com/acme/a"},
			Status:  status.Value{Status: status.Okay{}},
			Regexes: []extraction.RegexEntity{
				{Pattern: `^\d+$`, LineNo: 3, SourceFile: "index.js"},
				{Pattern: `a|b`, Flags: "g", LineNo: 9, SourceFile: "index.js"},
			},
			Usages: []extraction.UsageRecord{{Pattern: `^\d+$`, Subject: "12"}},
		},
		{
			Project: extraction.PackageSpec{Name: "b", Repo: "https://github.com/acme/b"},
			Status:  status.Value{Status: status.TestTimeout{}},
			Usages:  []extraction.UsageRecord{{Pattern: `^\d+$`, Subject: "x"}},
		},
	} {
		_, err := store.SaveExtraction(ctx, res)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())
	return path
}

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := openDBReadOnly(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestQueryCommand_Tables(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))
	buf := new(bytes.Buffer)

	require.NoError(t, listTablesFromDB(context.Background(), buf, db, "table", false))

	output := buf.String()
	for _, table := range []string{"pattern", "project", "source_usage", "subject_usage", "processing_report"} {
		assert.Contains(t, output, table)
	}
	assert.NotContains(t, output, "goose_db_version")
}

func TestQueryCommand_Schema(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))
	buf := new(bytes.Buffer)

	require.NoError(t, showSchemaFromDB(context.Background(), buf, db, "pattern", "table"))

	output := buf.String()
	assert.Contains(t, output, "Table: pattern")
	assert.Contains(t, output, "flags")
	assert.Contains(t, output, "static")
	assert.Contains(t, output, "(primary key)")
}

func TestQueryCommand_SchemaNotFound(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))

	err := showSchemaFromDB(context.Background(), new(bytes.Buffer), db, "nonexistent_table", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestQueryCommand_SchemaJSON(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))
	buf := new(bytes.Buffer)

	require.NoError(t, showSchemaFromDB(context.Background(), buf, db, "subject_usage", "json"))

	output := buf.String()
	assert.Contains(t, output, `"name": "subject_usage"`)
	assert.Contains(t, output, `"type": "table"`)
	assert.Contains(t, output, `"columns"`)
}

func TestQueryCommand_Patterns(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))
	buf := new(bytes.Buffer)

	require.NoError(t, searchPatternsInDB(context.Background(), buf, db, `\d`, "csv", 10))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,pattern,flags,static,dynamic,source_projects,runtime_projects", lines[0])
	// one project uses it in source, two at runtime
	assert.True(t, strings.HasSuffix(lines[1], ",1,1,1,2"), lines[1])
}

func TestQueryCommand_RenderFormats(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))
	query := "SELECT pattern, flags FROM pattern ORDER BY pattern"

	tests := []struct {
		format string
		want   []string
	}{
		{"table", []string{"a|b", `^\d+$`, "(2 rows)"}},
		{"json", []string{`"pattern": "a|b"`, `"flags": "g"`}},
		{"csv", []string{"pattern,flags", "a|b,g"}},
		{"md", []string{"| pattern | flags |", "| --- | --- |", `| a\|b | g |`}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rows, err := db.QueryContext(context.Background(), query)
			require.NoError(t, err)
			defer func() { _ = rows.Close() }()

			buf := new(bytes.Buffer)
			require.NoError(t, renderResults(buf, rows, tt.format))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestQueryCommand_ReadOnly(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))
	_, err := db.ExecContext(context.Background(), "DELETE FROM pattern")
	require.Error(t, err)
}

func TestQueryCommand_EmptyResults(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))

	rows, err := db.QueryContext(context.Background(), "SELECT * FROM pattern WHERE 1=0")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	buf := new(bytes.Buffer)
	require.NoError(t, renderResults(buf, rows, "table"))
	assert.Contains(t, buf.String(), "(0 rows)")
}

func TestRenderRows(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, renderRows(buf, "json", []string{"metric", "value"}, nil))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, renderRows(buf, "csv", []string{"metric", "value"}, [][]any{{"patterns", 3}, {"failed", nil}}))
	assert.Equal(t, "metric,value\npatterns,3\nfailed,NULL\n", buf.String())
}

func TestNewQueryCommand(t *testing.T) {
	cmd := NewQueryCommand()
	assert.Equal(t, "query", cmd.Use[:5])
	assert.NotNil(t, cmd.RunE)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"tables", "schema", "patterns"}, names)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		input    any
		expected string
	}{
		{nil, "NULL"},
		{"hello", "hello"},
		{42, "42"},
		{3.14, "3.14"},
		{true, "true"},
	}

	for _, tt := range tests {
		result := formatValue(tt.input)
		assert.Equal(t, tt.expected, result)
	}
}

func TestEscapeCSV(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"with,comma", `"with,comma"`},
		{`with"quote`, `"with""quote"`},
		{"with\nnewline", `"with
newline"`},
		{`complex,"values"`, `"complex,""values"""`},
	}

	for _, tt := range tests {
		result := escapeCSV(tt.input)
		assert.Equal(t, tt.expected, result)
	}
}

func TestQueryCommand_TablesRowCounts(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))
	buf := new(bytes.Buffer)

	require.NoError(t, listTablesFromDB(context.Background(), buf, db, "csv", false))
	assert.Contains(t, buf.String(), "name,type,rows\n")
	assert.Contains(t, buf.String(), "pattern,table,2\n")
	assert.Contains(t, buf.String(), "project,table,2\n")
}

func TestQueryCommand_SchemaIndexes(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))

	s, err := describeTable(context.Background(), db, "pattern")
	require.NoError(t, err)
	assert.Equal(t, "table", s.Type)
	assert.Equal(t, int64(2), s.Rows)

	var names []string
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "pattern")
	assert.Contains(t, names, "flags")
}

func TestQuerySession_HandleLine(t *testing.T) {
	db := openTestDB(t, setupTestCorpus(t))
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	s := &querySession{ctx: context.Background(), db: db, out: out, errOut: errOut, format: "csv"}

	// statements span lines until a semicolon
	assert.False(t, s.handleLine("SELECT flags"))
	assert.Empty(t, out.String())
	assert.False(t, s.handleLine("FROM pattern WHERE flags = 'g';"))
	assert.Equal(t, "flags\ng\n\n", out.String())

	out.Reset()
	assert.False(t, s.handleLine(".format json"))
	assert.Equal(t, "json", s.format)
	assert.False(t, s.handleLine("SELECT 1 AS one;"))
	assert.Contains(t, out.String(), `"one": 1`)

	assert.False(t, s.handleLine(".format yaml"))
	assert.Contains(t, errOut.String(), `unknown format "yaml"`)

	errOut.Reset()
	assert.False(t, s.handleLine(".schema"))
	assert.Equal(t, "Usage: .schema <table>\n", errOut.String())

	errOut.Reset()
	assert.False(t, s.handleLine(".nope"))
	assert.Contains(t, errOut.String(), "Unknown command: .nope")

	errOut.Reset()
	assert.False(t, s.handleLine("SELECT * FROM missing;"))
	assert.Contains(t, errOut.String(), "Error:")

	out.Reset()
	assert.False(t, s.handleLine(".help"))
	assert.Contains(t, out.String(), ".patterns <substring>")
	assert.NotContains(t, out.String(), "  .exit")

	assert.True(t, s.handleLine(".quit"))
	assert.True(t, s.handleLine(".EXIT"))
}

func TestReadSQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 2"), 0600))

	tests := []struct {
		name    string
		args    []string
		input   string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "args", args: []string{"SELECT", "1"}, stdin: "SELECT 3", want: "SELECT 1"},
		{name: "file", input: path, stdin: "SELECT 3", want: "SELECT 2"},
		{name: "stdin", stdin: "SELECT 3", want: "SELECT 3"},
		{name: "empty stdin", stdin: " \n", wantErr: true},
		{name: "missing file", input: path + ".missing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewQueryCommand()
			cmd.SetIn(strings.NewReader(tt.stdin))
			got, err := readSQL(cmd, tt.args, tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
