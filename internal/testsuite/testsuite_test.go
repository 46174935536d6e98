package testsuite

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/leapstack-labs/regexcorpus/internal/automaton"
	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/leapstack-labs/regexcorpus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(pattern string, projectID int64, subject string) corpus.SubjectUsageRow {
	return corpus.SubjectUsageRow{Pattern: pattern, ProjectID: projectID, Subject: subject}
}

func TestBuild(t *testing.T) {
	logger, rec := testutil.NewRecordingLogger()
	rows := []corpus.SubjectUsageRow{
		row(`^\d+$`, 2, "x"),
		row(`^\d+$`, 1, "12"),
		row(`^\d+$`, 1, "ab"),
		row(`^\d+$`, 1, "12"),
		row(`^\d+$`, 1, "7"),
		row(`(`, 1, "("),
		row(`a`, 1, "cat"),
	}

	got := Build(rows, logger)
	require.Len(t, got, 3)

	assert.Equal(t, RegexTestCase{
		Truth:     `^\d+$`,
		PackageID: 1,
		Positive:  []string{"12", "7"},
		Negative:  []string{"ab"},
	}, got[0])

	// only positives is still a test case
	assert.Equal(t, `a`, got[1].Truth)
	assert.Equal(t, []string{"cat"}, got[1].Positive)
	assert.Empty(t, got[1].Negative)

	// the same text in another project is a separate case
	assert.Equal(t, int64(2), got[2].PackageID)
	assert.Empty(t, got[2].Positive)
	assert.Equal(t, []string{"x"}, got[2].Negative)

	assert.Equal(t, 1, rec.Count(slog.LevelWarn))
}

func TestBuild_Empty(t *testing.T) {
	assert.Empty(t, Build(nil, nil))
}

func TestBuild_ExamplesAgreeWithTruth(t *testing.T) {
	rows := []corpus.SubjectUsageRow{
		row(`(?i)^[a-f0-9]+$`, 1, "DEADbeef"),
		row(`(?i)^[a-f0-9]+$`, 1, "xyz"),
		row(`(?i)^[a-f0-9]+$`, 1, ""),
		row(`\s`, 1, "a b"),
		row(`\s`, 1, "ab"),
	}
	for _, tc := range Build(rows, testutil.NewTestLogger(t)) {
		assert.True(t, tc.TestPattern(tc.Truth), tc.Truth)
		assert.Equal(t, len(tc.Positive)+len(tc.Negative), tc.TotalExamples())
	}
}

func TestRegexTestCase_TestPattern(t *testing.T) {
	tc := RegexTestCase{Truth: `\d+`, Positive: []string{"a1", "22"}, Negative: []string{"ab", ""}}

	tests := []struct {
		pattern string
		want    bool
	}{
		{`\d+`, true},
		{`[0-9]`, true},
		{`\d{2}`, false},
		{`.*`, false},
		{`(`, false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, tc.TestPattern(tt.pattern))
		})
	}
}

func TestRegexTestCase_TestAutomaton(t *testing.T) {
	tc := RegexTestCase{Truth: `\d+`, Positive: []string{"a1", "22"}, Negative: []string{"ab", ""}}

	tests := []struct {
		pattern string
		want    bool
	}{
		{`\d+`, true},
		{`[0-9]`, true},
		{`\d{2}`, false},
		{`x*`, false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			d, err := automaton.Compile(tt.pattern, automaton.Options{})
			require.NoError(t, err)
			got, err := tc.TestAutomaton(d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	bad := RegexTestCase{Truth: "a", Positive: []string{"a\xff"}}
	d, err := automaton.Compile("a", automaton.Options{})
	require.NoError(t, err)
	_, err = bad.TestAutomaton(d)
	require.ErrorIs(t, err, automaton.ErrInvalidUTF8)
}

func TestCodec_RoundTrip(t *testing.T) {
	cases := []RegexTestCase{
		{Truth: `^<a href="(.*)">$`, PackageID: 3, Positive: []string{`<a href="x">`}, Negative: []string{"a", "b"}},
		{Truth: `\d`, PackageID: 9, Positive: []string{"1"}, Negative: []string{"\n"}},
	}

	for _, format := range []Format{FormatJSON, FormatNDJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, cases, format))
			got, err := Read(&buf, format)
			require.NoError(t, err)
			assert.Equal(t, cases, got)
		})
	}
}

func TestCodec_JSONShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []RegexTestCase{{Truth: "a<b", PackageID: 1, Positive: []string{}, Negative: []string{}}}, FormatJSON))
	out := buf.String()
	assert.Contains(t, out, `"truth": "a<b"`)
	assert.Contains(t, out, `"package_id": 1`)
	assert.Contains(t, out, `"positive": []`)

	buf.Reset()
	require.NoError(t, Write(&buf, nil, FormatJSON))
	assert.Equal(t, "[]\n", buf.String())
}

func TestCodec_Errors(t *testing.T) {
	_, err := Read(strings.NewReader("{\"truth\":\"a\"}\nnot json\n"), FormatNDJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = Read(strings.NewReader("{"), FormatJSON)
	require.Error(t, err)

	_, err = Read(strings.NewReader(""), "xml")
	require.Error(t, err)
	require.Error(t, Write(&bytes.Buffer{}, nil, "xml"))

	got, err := Read(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"NDJSON", FormatNDJSON, false},
		{"jsonl", FormatNDJSON, false},
		{"yml", FormatYAML, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, FormatYAML, FormatForPath("suites.yaml"))
	assert.Equal(t, FormatNDJSON, FormatForPath("out/suites.ndjson"))
	assert.Equal(t, FormatJSON, FormatForPath("suites"))
}
