package corpus

import (
	"context"
	"testing"

	"github.com/leapstack-labs/regexcorpus/internal/extraction"
	"github.com/leapstack-labs/regexcorpus/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertPattern_FlagsOnlyUpgrade(t *testing.T) {
	tests := []struct {
		name        string
		ops         [][2]bool // (static, dynamic) per upsert
		wantStatic  bool
		wantDynamic bool
	}{
		{"static only", [][2]bool{{true, false}}, true, false},
		{"dynamic only", [][2]bool{{false, true}}, false, true},
		{"static then dynamic", [][2]bool{{true, false}, {false, true}}, true, true},
		{"dynamic then static", [][2]bool{{false, true}, {true, false}}, true, true},
		{"neither does not clear", [][2]bool{{true, true}, {false, false}}, true, true},
		{"repeat", [][2]bool{{true, false}, {true, false}, {true, false}}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := setupTestStore(t)

			var ids []int64
			for _, op := range tt.ops {
				id, err := s.UpsertPattern(ctx, `\d+`, "g", op[0], op[1])
				require.NoError(t, err)
				ids = append(ids, id)
			}
			for _, id := range ids {
				assert.Equal(t, ids[0], id)
			}

			p, err := s.PatternByID(ctx, ids[0])
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatic, p.Static)
			assert.Equal(t, tt.wantDynamic, p.Dynamic)
		})
	}
}

func TestInsertPattern_IdentityIsPatternAndFlags(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	inserted, err := s.InsertPattern(ctx, "abc", "", true, false)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertPattern(ctx, "abc", "", false, true)
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = s.InsertPattern(ctx, "abc", "i", false, true)
	require.NoError(t, err)
	assert.True(t, inserted)

	// upgrading one flags variant leaves the other alone
	require.NoError(t, s.SetDynamicFlag(ctx, "abc", ""))
	id, err := s.PatternID(ctx, "abc", "i")
	require.NoError(t, err)
	p, err := s.PatternByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, p.Static)
	assert.True(t, p.Dynamic)

	got, err := s.FindPatterns(ctx, PatternFilter{Substring: "abc"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestUsages(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	projectID, err := s.InsertProject(ctx, spec("https://github.com/a/lib"))
	require.NoError(t, err)
	otherID, err := s.InsertProject(ctx, spec("https://github.com/a/other"))
	require.NoError(t, err)

	entity := extraction.RegexEntity{Pattern: `^\d+$`, Flags: "", LineNo: 12, SourceFile: "src/a.js", Commit: "c0ffee"}
	require.NoError(t, s.InsertSourceUsage(ctx, projectID, entity))
	require.NoError(t, s.InsertSourceUsage(ctx, projectID, entity))

	usage := extraction.UsageRecord{Pattern: `^\d+$`, Subject: "42", FuncName: "test"}
	require.NoError(t, s.InsertSubjectUsage(ctx, projectID, usage))
	require.NoError(t, s.InsertSubjectUsage(ctx, projectID, usage))
	require.NoError(t, s.InsertSubjectUsage(ctx, projectID, extraction.UsageRecord{Pattern: `^\d+$`, Subject: "x", FuncName: "test"}))
	require.NoError(t, s.InsertSubjectUsage(ctx, otherID, extraction.UsageRecord{Pattern: `[a-z]`, Subject: "q", FuncName: "exec"}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Patterns)
	assert.Equal(t, int64(1), stats.Both)
	assert.Equal(t, int64(1), stats.DynamicOnly)
	assert.Equal(t, int64(1), stats.SourceUsages)
	assert.Equal(t, int64(3), stats.SubjectUsages)

	rows, err := s.SubjectUsageRows(ctx, RowFilter{ProjectID: projectID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "42", rows[0].Subject)
	assert.Equal(t, "x", rows[1].Subject)

	candidates, err := s.CandidatePatternIDs(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	texts, err := s.PatternTexts(ctx, candidates)
	require.NoError(t, err)
	assert.Equal(t, `^\d+$`, texts[candidates[0]])

	byProject, err := s.FindPatterns(ctx, PatternFilter{ProjectID: otherID})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, `[a-z]`, byProject[0].Pattern)
}

func TestSubjectUsageRows_MetacharOnly(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	id, err := s.InsertProject(ctx, spec("https://github.com/a/lib"))
	require.NoError(t, err)

	require.NoError(t, s.InsertSubjectUsage(ctx, id, extraction.UsageRecord{Pattern: "plain", Subject: "plain text"}))
	require.NoError(t, s.InsertSubjectUsage(ctx, id, extraction.UsageRecord{Pattern: "a+", Subject: "aaa"}))

	all, err := s.SubjectUsageRows(ctx, RowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	meta, err := s.SubjectUsageRows(ctx, RowFilter{MetacharOnly: true})
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Equal(t, "a+", meta[0].Pattern)
}

func TestSaveExtraction(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	res := extraction.Result{
		Project:    spec("https://github.com/a/lib"),
		Dependents: []extraction.PackageSpec{spec("https://github.com/a/lib-fork")},
		Status:     status.Value{Status: status.Okay{}},
		Regexes: []extraction.RegexEntity{
			{Pattern: `\s+`, LineNo: 1, SourceFile: "a.js"},
			{Pattern: `\s+`, Flags: "g", LineNo: 2, SourceFile: "a.js"},
		},
		Usages: []extraction.UsageRecord{{Pattern: `\s+`, Subject: "a b", FuncName: "split"}},
		LOC:    &extraction.LOC{Files: 3, Code: 100},
	}

	sum, err := s.SaveExtraction(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.SourceUsages)
	assert.Equal(t, 1, sum.Usages)
	assert.Equal(t, 1, sum.Dependents)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Patterns)
	assert.Equal(t, int64(1), stats.Both)
	assert.Equal(t, int64(1), stats.Dependents)
	assert.Equal(t, map[string]int64{"OKAY": 1}, stats.ReportsByState)

	st, err := s.ProcessingStatus(ctx, sum.ProjectID)
	require.NoError(t, err)
	assert.True(t, status.IsOkay(st))
}

func TestSaveExtraction_Invalid(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.SaveExtraction(context.Background(), extraction.Result{Project: spec("r")})
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	ctx := context.Background()
	a := setupTestStore(t)
	b := setupTestStore(t)

	for _, s := range []*Store{a, b} {
		_, err := s.UpsertPattern(ctx, "x", "", true, false)
		require.NoError(t, err)
		_, err = s.UpsertPattern(ctx, "y+", "i", false, true)
		require.NoError(t, err)
	}

	fa, err := a.Fingerprint(ctx)
	require.NoError(t, err)
	fb, err := b.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
	assert.Equal(t, int64(2), fa.Patterns)

	// provenance flags are not part of the fingerprint
	require.NoError(t, b.SetStaticFlag(ctx, "y+", "i"))
	fb, err = b.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	_, err = b.UpsertPattern(ctx, "z", "", true, false)
	require.NoError(t, err)
	fb, err = b.Fingerprint(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, fa.Digest, fb.Digest)
}

func TestEachPattern(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	for _, p := range []string{"c", "a", "b"} {
		_, err := s.UpsertPattern(ctx, p, "", true, false)
		require.NoError(t, err)
	}

	var got []string
	var lastID int64
	err := s.EachPattern(ctx, func(p Pattern) error {
		assert.Greater(t, p.ID, lastID)
		lastID = p.ID
		got = append(got, p.Pattern)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, got)

	err = s.EachPattern(ctx, func(Pattern) error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)
}
