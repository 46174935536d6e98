package dfastore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/regexcorpus/internal/automaton"
	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/leapstack-labs/regexcorpus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	corpusPath string
	ids        map[string]int64
}

func setupCorpus(t *testing.T, dir string, patterns ...[2]string) fixture {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(dir, "corpus.db")
	s, err := corpus.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	f := fixture{corpusPath: path, ids: make(map[string]int64)}
	for _, p := range patterns {
		id, err := s.UpsertPattern(ctx, p[0], p[1], true, false)
		require.NoError(t, err)
		f.ids[p[0]+"/"+p[1]] = id
	}
	return f
}

var testPatterns = [][2]string{
	{`a+b`, ""},
	{`^\d{3}-\d{4}$`, ""},
	{`hello`, "i"},
	{`(?=x)y`, ""},          // lookahead does not parse
	{`\bword`, ""},          // word boundary is not supported
	{`[ab]*a[ab]{12}`, "g"}, // exceeds a small state ceiling
}

func buildTestDB(t *testing.T, opts BuildOptions) (fixture, string, *BuildSummary) {
	t.Helper()
	dir := t.TempDir()
	f := setupCorpus(t, dir, testPatterns...)
	out := filepath.Join(dir, "dfas.db")
	if opts.MaxStates == 0 {
		opts.MaxStates = 64
	}
	if opts.Logger == nil {
		opts.Logger = testutil.NewTestLogger(t)
	}
	sum, err := Build(context.Background(), f.corpusPath, out, opts)
	require.NoError(t, err)
	return f, out, sum
}

func openTestStore(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBuild_Summary(t *testing.T) {
	_, out, sum := buildTestDB(t, BuildOptions{})

	assert.Equal(t, out, sum.Output)
	assert.Equal(t, 6, sum.Patterns)
	assert.Equal(t, 3, sum.Compiled)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, map[string]int{"syntax": 1, "unsupported": 1, "too_large": 1}, sum.Failures)
	assert.Positive(t, sum.Bytes)
	assert.Equal(t, int64(6), sum.Fingerprint.Patterns)

	// staging directory is gone
	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".dfas-"), "leftover %s", e.Name())
	}

	s := openTestStore(t, out)
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	f, out, _ := buildTestDB(t, BuildOptions{})
	s := openTestStore(t, out)

	tests := []struct {
		key     string
		input   string
		wantOK  bool
		matches bool
	}{
		{`a+b/`, "xxaab", true, true},
		{`a+b/`, "ba", true, false},
		{`^\d{3}-\d{4}$/`, "555-1234", true, true},
		{`^\d{3}-\d{4}$/`, "555-12345", true, false},
		{`hello/i`, "Say HELLO", true, true},
		{`(?=x)y/`, "", false, false},
		{`\bword/`, "", false, false},
		{`[ab]*a[ab]{12}/g`, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.key+tt.input, func(t *testing.T) {
			id, known := f.ids[tt.key]
			require.True(t, known)

			d, ok, err := s.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				assert.Nil(t, d)
				return
			}
			got, err := d.Match(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.matches, got)
		})
	}

	d, ok, err := s.Load(ctx, 9999)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, d)
}

func TestBuild_WorkersProduceSameBlobs(t *testing.T) {
	ctx := context.Background()
	f, serialPath, _ := buildTestDB(t, BuildOptions{Workers: 1})

	parallelPath := filepath.Join(t.TempDir(), "parallel.db")
	_, err := Build(ctx, f.corpusPath, parallelPath, BuildOptions{MaxStates: 64, Workers: 4, BatchSize: 1})
	require.NoError(t, err)

	serial := openTestStore(t, serialPath)
	parallel := openTestStore(t, parallelPath)
	for key, id := range f.ids {
		a, okA, err := serial.Bytes(ctx, id)
		require.NoError(t, err)
		b, okB, err := parallel.Bytes(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, okA, okB, key)
		assert.Equal(t, a, b, key)
	}
}

func TestBytes_MultiPageBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := setupCorpus(t, dir, [2]string{`\pL{3}`, ""}, [2]string{`ab`, ""})
	out := filepath.Join(dir, "dfas.db")
	_, err := Build(ctx, f.corpusPath, out, BuildOptions{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)

	s := openTestStore(t, out)
	for _, p := range []string{`\pL{3}`, `ab`} {
		d, err := automaton.Compile(p, automaton.Options{})
		require.NoError(t, err)
		want, err := d.MarshalBinary()
		require.NoError(t, err)

		got, ok, err := s.Bytes(ctx, f.ids[p+"/"])
		require.NoError(t, err)
		require.True(t, ok, p)
		assert.Equal(t, want, got, p)
	}

	big, _, err := s.Bytes(ctx, f.ids[`\pL{3}/`])
	require.NoError(t, err)
	assert.Greater(t, len(big), 4096, "blob should span several pages")

	d, ok, err := s.Load(ctx, f.ids[`\pL{3}/`])
	require.NoError(t, err)
	require.True(t, ok)
	for input, want := range map[string]bool{"xéЖ": true, "a1b": false} {
		got, err := d.Match(input)
		require.NoError(t, err)
		assert.Equal(t, want, got, input)
	}

	_, ok, err = s.Bytes(ctx, 1<<40)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuild_ExistingOutput(t *testing.T) {
	ctx := context.Background()
	f, out, _ := buildTestDB(t, BuildOptions{})

	_, err := Build(ctx, f.corpusPath, out, BuildOptions{})
	require.ErrorIs(t, err, ErrExists)

	sum, err := Build(ctx, f.corpusPath, out, BuildOptions{Force: true})
	require.NoError(t, err)
	// the default ceiling is large enough for the last pattern
	assert.Equal(t, 4, sum.Compiled)
}

func TestBuild_MissingCorpus(t *testing.T) {
	dir := t.TempDir()
	_, err := Build(context.Background(), filepath.Join(dir, "nope.db"), filepath.Join(dir, "out.db"), BuildOptions{})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "out.db"))
}

func TestCheckFingerprint(t *testing.T) {
	ctx := context.Background()
	f, out, _ := buildTestDB(t, BuildOptions{})
	logger, rec := testutil.NewRecordingLogger()
	s := openTestStore(t, out, WithLogger(logger))

	src, ok, err := s.Source(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(6), src.Fingerprint.Patterns)
	assert.NotEmpty(t, src.BuiltAt)

	c, err := corpus.Open(ctx, f.corpusPath)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	fresh, err := s.CheckFingerprint(ctx, c)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 0, rec.Count(slog.LevelWarn))

	_, err = c.UpsertPattern(ctx, "added-later", "", false, true)
	require.NoError(t, err)

	fresh, err = s.CheckFingerprint(ctx, c)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, 1, rec.Count(slog.LevelWarn))
}

func TestOpen_NotDFADatabase(t *testing.T) {
	dir := t.TempDir()
	f := setupCorpus(t, dir, [2]string{"x", ""})
	_, err := Open(context.Background(), f.corpusPath)
	require.ErrorIs(t, err, ErrNotDFADatabase)
}
