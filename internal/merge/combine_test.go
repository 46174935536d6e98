package merge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/leapstack-labs/regexcorpus/internal/extraction"
	"github.com/leapstack-labs/regexcorpus/internal/status"
	"github.com/leapstack-labs/regexcorpus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	repoX = "https://github.com/acme/x"
	repoY = "https://github.com/acme/y"
)

func pkg(repo string) extraction.PackageSpec {
	return extraction.PackageSpec{Name: filepath.Base(repo), Repo: repo, Language: extraction.LanguageJavaScript}
}

// writeShard creates a corpus at dir/name holding results, saved in order.
func writeShard(t *testing.T, dir, name string, results ...extraction.Result) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(dir, name)
	s, err := corpus.Create(ctx, path)
	require.NoError(t, err)
	for _, res := range results {
		_, err := s.SaveExtraction(ctx, res)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
	return path
}

// twoShards builds shards whose row ids disagree for the same natural keys.
func twoShards(t *testing.T, dir string) (string, string) {
	a := writeShard(t, dir, "a.db", extraction.Result{
		Project: pkg(repoX),
		Status:  status.Value{Status: status.Okay{}},
		Regexes: []extraction.RegexEntity{{Pattern: "a+", LineNo: 1, SourceFile: "index.js"}},
		Usages:  []extraction.UsageRecord{{Pattern: "b*", Subject: "bb", FuncName: "test"}},
		LOC:     &extraction.LOC{Files: 1, Code: 10},
	})
	b := writeShard(t, dir, "b.db",
		extraction.Result{
			Project: pkg(repoY),
			Status:  status.Value{Status: status.InstallTimeout{}},
			Regexes: []extraction.RegexEntity{{Pattern: "c", LineNo: 3, SourceFile: "lib.js"}},
		},
		extraction.Result{
			Project:    pkg(repoX),
			Dependents: []extraction.PackageSpec{pkg("https://github.com/acme/x-fork")},
			Status:     status.Value{Status: status.Partial{Inner: status.TestTimeout{}}},
			Regexes:    []extraction.RegexEntity{{Pattern: "b*", LineNo: 7, SourceFile: "util.js"}},
			Usages: []extraction.UsageRecord{
				{Pattern: "b*", Subject: "bb", FuncName: "test"},
				{Pattern: "b*", Subject: "b", FuncName: "test"},
			},
		},
	)
	return a, b
}

func openAccumulator(t *testing.T, path string) *corpus.Store {
	t.Helper()
	s, err := corpus.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCombine_RekeysByNaturalKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, b := twoShards(t, dir)
	accPath := filepath.Join(dir, "merged.db")

	sum, err := Combine(ctx, CombineOptions{
		Shards: []string{a, b},
		New:    accPath,
		Logger: testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	require.Len(t, sum.Merged, 2)
	assert.Empty(t, sum.Failed)

	acc := openAccumulator(t, accPath)
	stats, err := acc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Patterns)
	assert.Equal(t, int64(2), stats.StaticOnly)
	assert.Equal(t, int64(1), stats.Both)
	assert.Equal(t, int64(2), stats.Projects)
	assert.Equal(t, int64(3), stats.SourceUsages)
	assert.Equal(t, int64(2), stats.SubjectUsages)
	assert.Equal(t, int64(1), stats.Dependents)
	// the first report for a project wins
	assert.Equal(t, map[string]int64{"OKAY": 1, "INSTALL TIMEOUT": 1}, stats.ReportsByState)

	x, err := acc.ProjectByRepo(ctx, repoX)
	require.NoError(t, err)
	rows, err := acc.SubjectUsageRows(ctx, corpus.RowFilter{ProjectID: x.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "b*", r.Pattern)
	}
	assert.Equal(t, "b", rows[0].Subject)
	assert.Equal(t, "bb", rows[1].Subject)

	candidates, err := acc.CandidatePatternIDs(ctx, x.ID)
	require.NoError(t, err)
	texts, err := acc.PatternTexts(ctx, candidates)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a+", "b*"}, mapValues(texts))

	y, err := acc.ProjectByRepo(ctx, repoY)
	require.NoError(t, err)
	candidates, err = acc.CandidatePatternIDs(ctx, y.ID)
	require.NoError(t, err)
	texts, err = acc.PatternTexts(ctx, candidates)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, mapValues(texts))
}

func TestMergeStore_Idempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, b := twoShards(t, dir)

	acc, err := corpus.Create(ctx, filepath.Join(dir, "acc.db"))
	require.NoError(t, err)
	defer func() { _ = acc.Close() }()

	for _, shard := range []string{a, b} {
		_, err := MergeStore(ctx, acc, shard, V2)
		require.NoError(t, err)
	}
	before, err := acc.Stats(ctx)
	require.NoError(t, err)
	fpBefore, err := acc.Fingerprint(ctx)
	require.NoError(t, err)

	again, err := MergeStore(ctx, acc, b, V2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Rows("insert-patterns"))
	assert.Equal(t, int64(0), again.Rows("rekey-subject-usages"))

	after, err := acc.Stats(ctx)
	require.NoError(t, err)
	fpAfter, err := acc.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, fpBefore, fpAfter)
}

func TestMerge_V1LeavesReportsAlone(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, _ := twoShards(t, dir)
	accPath := filepath.Join(dir, "acc.db")

	sum, err := Merge(ctx, accPath, a, V1, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Rows("insert-patterns"))

	acc := openAccumulator(t, accPath)
	stats, err := acc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Patterns)
	assert.Empty(t, stats.ReportsByState)
}

func TestCombine_FailedShardRollsBackAndContinues(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, _ := twoShards(t, dir)

	// a schema-1 shard has no report tables, so the v2 plan fails part way
	oldPath := filepath.Join(dir, "old.db")
	old, err := corpus.Open(ctx, oldPath)
	require.NoError(t, err)
	require.NoError(t, old.MigrateTo(ctx, corpus.SchemaV1))
	_, err = old.UpsertPattern(ctx, "only-in-old", "", true, false)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	accPath := filepath.Join(dir, "acc.db")
	sum, err := Combine(ctx, CombineOptions{
		Shards:  []string{oldPath, a},
		New:     accPath,
		Version: V2,
		Logger:  testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, oldPath, sum.Failed[0].Shard)
	assert.Contains(t, sum.Failed[0].Err, "rekey-processing-reports")
	require.Len(t, sum.Merged, 1)

	acc := openAccumulator(t, accPath)
	_, err = acc.PatternID(ctx, "only-in-old", "")
	require.ErrorIs(t, err, corpus.ErrNotFound)
	_, err = acc.PatternID(ctx, "a+", "")
	require.NoError(t, err)
}

func TestCombine_FirstFileIsAccumulator(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, b := twoShards(t, dir)

	sum, err := Combine(ctx, CombineOptions{Shards: []string{a, b, a}})
	require.NoError(t, err)
	assert.Equal(t, a, sum.Accumulator)
	assert.Equal(t, []string{a}, sum.Skipped)
	require.Len(t, sum.Merged, 1)

	acc := openAccumulator(t, a)
	stats, err := acc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Patterns)
}

func TestCombine_Purge(t *testing.T) {
	tests := []struct {
		name        string
		confirm     ConfirmFunc
		wantRemoved bool
	}{
		{"no confirmation refuses", nil, false},
		{"declined", func(string) (bool, error) { return false, nil }, false},
		{"confirmed", func(string) (bool, error) { return true, nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			a, b := twoShards(t, dir)
			accPath := filepath.Join(dir, "acc.db")

			sum, err := Combine(ctx, CombineOptions{
				Shards:  []string{a, b},
				New:     accPath,
				Purge:   true,
				Confirm: tt.confirm,
				Logger:  testutil.NewTestLogger(t),
			})
			require.NoError(t, err)
			assert.Equal(t, !tt.wantRemoved, sum.PurgeRefused)

			for _, p := range []string{a, b} {
				if tt.wantRemoved {
					assert.NoFileExists(t, p)
				} else {
					assert.FileExists(t, p)
				}
			}
			assert.FileExists(t, accPath)
		})
	}
}

func TestCombine_AccumulatorErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, b := twoShards(t, dir)

	_, err := Combine(ctx, CombineOptions{Shards: []string{a}, New: "x.db", Existing: a})
	require.ErrorIs(t, err, ErrAccumulatorConflict)

	_, err = Combine(ctx, CombineOptions{Shards: []string{b}, New: a})
	require.Error(t, err)

	_, err = Combine(ctx, CombineOptions{Shards: []string{b}, Existing: filepath.Join(dir, "missing.db")})
	require.Error(t, err)

	_, err = Combine(ctx, CombineOptions{Shards: []string{a}})
	require.ErrorIs(t, err, ErrNoShards)

	_, err = Combine(ctx, CombineOptions{Shards: []string{a, b}, Version: "v9"})
	require.Error(t, err)
}

func mapValues(m map[int64]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
