package testsuite

import (
	"cmp"
	"log/slog"
	"regexp"
	"slices"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
)

type groupKey struct {
	pattern   string
	projectID int64
}

// Build groups rows by (pattern text, project) and labels each group's
// distinct subjects with the group's own pattern. Groups whose pattern does
// not compile are dropped with a warning. A group may end up with only
// positive or only negative examples.
//
// Cases are ordered by project id, then truth.
func Build(rows []corpus.SubjectUsageRow, logger *slog.Logger) []RegexTestCase {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	groups := make(map[groupKey]map[string]struct{})
	for _, r := range rows {
		k := groupKey{pattern: r.Pattern, projectID: r.ProjectID}
		subjects, ok := groups[k]
		if !ok {
			subjects = make(map[string]struct{})
			groups[k] = subjects
		}
		subjects[r.Subject] = struct{}{}
	}

	cases := make([]RegexTestCase, 0, len(groups))
	for k, subjects := range groups {
		tc, err := newTestCase(k.projectID, k.pattern, subjects)
		if err != nil {
			logger.Warn("dropping test suite with invalid truth pattern",
				"pattern", k.pattern, "project_id", k.projectID, "error", err)
			continue
		}
		cases = append(cases, tc)
	}

	slices.SortFunc(cases, func(a, b RegexTestCase) int {
		return cmp.Or(cmp.Compare(a.PackageID, b.PackageID), cmp.Compare(a.Truth, b.Truth))
	})
	logger.Debug("built test suites", "rows", len(rows), "groups", len(groups), "cases", len(cases))
	return cases
}

func newTestCase(projectID int64, pattern string, subjects map[string]struct{}) (RegexTestCase, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return RegexTestCase{}, err
	}
	tc := RegexTestCase{
		Truth:     pattern,
		PackageID: projectID,
		Positive:  []string{},
		Negative:  []string{},
	}
	for s := range subjects {
		if re.MatchString(s) {
			tc.Positive = append(tc.Positive, s)
		} else {
			tc.Negative = append(tc.Negative, s)
		}
	}
	slices.Sort(tc.Positive)
	slices.Sort(tc.Negative)
	return tc, nil
}
