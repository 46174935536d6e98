// Package evaluate finds, for each test case, the corpus patterns of the same
// project that behave exactly like the test case's truth on its examples.
package evaluate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/leapstack-labs/regexcorpus/internal/automaton"
	"github.com/leapstack-labs/regexcorpus/internal/testsuite"
)

// DefaultCacheSize is the number of automata kept in memory.
const DefaultCacheSize = 4096

// Corpus is the part of the corpus store the engine reads.
type Corpus interface {
	CandidatePatternIDs(ctx context.Context, projectID int64) ([]int64, error)
	PatternTexts(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Automata loads a compiled automaton by pattern id. A missing automaton is
// reported as (nil, false, nil).
type Automata interface {
	Load(ctx context.Context, regexID int64) (*automaton.DFA, bool, error)
}

// Match is a surviving candidate.
type Match struct {
	RegexID int64  `json:"regex_id"`
	Pattern string `json:"pattern"`
}

// TestResult pairs a test case with its surviving candidates, ordered by id.
type TestResult struct {
	TestCase testsuite.RegexTestCase `json:"test_case"`
	Matches  []Match                 `json:"matches"`
}

// Summary counts what an evaluation saw.
type Summary struct {
	Cases          int `json:"cases"`
	CasesMatched   int `json:"cases_matched"`
	TruthRecovered int `json:"truth_recovered"`
	Candidates     int `json:"candidates"`
	Unevaluable    int `json:"unevaluable"`
	Errors         int `json:"errors"`
	Matches        int `json:"matches"`
}

// Options configures an Engine.
type Options struct {
	CacheSize int
	Logger    *slog.Logger
}

// cached remembers absent automata too, so misses are not re-queried.
type cached struct {
	dfa *automaton.DFA
}

// Engine evaluates test cases against a corpus and its automata.
type Engine struct {
	corpus Corpus
	dfas   Automata
	cache  *lru.Cache[int64, cached]
	logger *slog.Logger
}

// New creates an Engine.
func New(c Corpus, dfas Automata, opts Options) (*Engine, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[int64, cached](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create automaton cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{corpus: c, dfas: dfas, cache: cache, logger: logger}, nil
}

// Evaluate runs every case. Storage errors stop the run; automata that fail
// to decode or to match are logged and excluded.
func (e *Engine) Evaluate(ctx context.Context, cases []testsuite.RegexTestCase) ([]TestResult, Summary, error) {
	results := make([]TestResult, 0, len(cases))
	var sum Summary
	for i := range cases {
		if err := ctx.Err(); err != nil {
			return nil, sum, err
		}
		res, err := e.evaluateCase(ctx, cases[i], &sum)
		if err != nil {
			return nil, sum, err
		}
		results = append(results, res)
	}
	e.logger.Info("evaluated test cases",
		"cases", sum.Cases,
		"matched", sum.CasesMatched,
		"truth_recovered", sum.TruthRecovered,
		"unevaluable", sum.Unevaluable,
	)
	return results, sum, nil
}

func (e *Engine) evaluateCase(ctx context.Context, tc testsuite.RegexTestCase, sum *Summary) (TestResult, error) {
	sum.Cases++
	candidates, err := e.corpus.CandidatePatternIDs(ctx, tc.PackageID)
	if err != nil {
		return TestResult{}, err
	}
	e.logger.Debug("evaluating test case", "truth", tc.Truth, "project_id", tc.PackageID, "candidates", len(candidates))

	var survivors []int64
	for _, id := range candidates {
		sum.Candidates++
		d, err := e.load(ctx, id)
		if err != nil {
			return TestResult{}, err
		}
		if d == nil {
			sum.Unevaluable++
			continue
		}
		ok, err := tc.TestAutomaton(d)
		if err != nil {
			e.logger.Warn("candidate failed while matching examples", "regex_id", id, "truth", tc.Truth, "error", err)
			sum.Errors++
			continue
		}
		if ok {
			survivors = append(survivors, id)
		}
	}

	res := TestResult{TestCase: tc, Matches: []Match{}}
	if len(survivors) == 0 {
		return res, nil
	}
	texts, err := e.corpus.PatternTexts(ctx, survivors)
	if err != nil {
		return TestResult{}, err
	}
	for _, id := range survivors {
		res.Matches = append(res.Matches, Match{RegexID: id, Pattern: texts[id]})
	}
	slices.SortFunc(res.Matches, func(a, b Match) int { return cmp.Compare(a.RegexID, b.RegexID) })

	sum.CasesMatched++
	sum.Matches += len(res.Matches)
	if slices.ContainsFunc(res.Matches, func(m Match) bool { return m.Pattern == tc.Truth }) {
		sum.TruthRecovered++
	}
	return res, nil
}

// load returns the automaton for id, or nil when it is absent or does not
// decode.
func (e *Engine) load(ctx context.Context, id int64) (*automaton.DFA, error) {
	if c, ok := e.cache.Get(id); ok {
		return c.dfa, nil
	}
	d, ok, err := e.dfas.Load(ctx, id)
	switch {
	case errors.Is(err, automaton.ErrCorrupt), errors.Is(err, automaton.ErrByteOrder):
		e.logger.Warn("skipping undecodable automaton", "regex_id", id, "error", err)
		d = nil
	case err != nil:
		return nil, err
	case !ok:
		d = nil
	}
	e.cache.Add(id, cached{dfa: d})
	return d, nil
}
