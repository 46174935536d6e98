// Package testsuite turns runtime regex usages into labelled test cases.
//
// A test case is built per (pattern text, project): every distinct subject the
// pattern was called on is labelled positive or negative by the pattern
// itself, which serves as the ground truth.
package testsuite

import (
	"regexp"

	"github.com/leapstack-labs/regexcorpus/internal/automaton"
)

// RegexTestCase is one ground-truth pattern with labelled examples.
// Positive and Negative are sorted and free of duplicates.
type RegexTestCase struct {
	Truth     string   `json:"truth" yaml:"truth"`
	PackageID int64    `json:"package_id" yaml:"package_id"`
	Positive  []string `json:"positive" yaml:"positive"`
	Negative  []string `json:"negative" yaml:"negative"`
}

// TotalExamples returns the number of labelled examples.
func (tc *RegexTestCase) TotalExamples() int {
	return len(tc.Positive) + len(tc.Negative)
}

// TestPattern reports whether pattern agrees with the truth on every example.
// A pattern that does not compile never agrees.
func (tc *RegexTestCase) TestPattern(pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	for _, s := range tc.Positive {
		if !re.MatchString(s) {
			return false
		}
	}
	for _, s := range tc.Negative {
		if re.MatchString(s) {
			return false
		}
	}
	return true
}

// TestAutomaton reports whether d matches every positive example and no
// negative example. It stops at the first disagreement.
func (tc *RegexTestCase) TestAutomaton(d *automaton.DFA) (bool, error) {
	ok, err := d.MatchAll(tc.Positive)
	if err != nil || !ok {
		return false, err
	}
	return d.MatchNone(tc.Negative)
}
