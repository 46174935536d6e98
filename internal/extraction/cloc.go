package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
)

// LOC is the line count summary of a project as reported by cloc.
type LOC struct {
	Files   int64 `json:"nFiles"`
	Blank   int64 `json:"blank"`
	Comment int64 `json:"comment"`
	Code    int64 `json:"code"`
}

// ErrNoSummary is returned when cloc output has no SUM block, which happens
// when none of the requested languages were found.
var ErrNoSummary = errors.New("cloc output has no SUM block")

// ParseClocOutput reads the SUM block of `cloc --json` output.
func ParseClocOutput(data []byte) (*LOC, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse cloc output: %w", err)
	}
	raw, ok := doc["SUM"]
	if !ok {
		return nil, ErrNoSummary
	}
	var loc LOC
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, fmt.Errorf("failed to parse cloc SUM block: %w", err)
	}
	return &loc, nil
}

// ClocLanguages returns the cloc language names counted for a source language.
func ClocLanguages(l SourceLanguage) []string {
	switch l {
	case LanguageJavaScript:
		return []string{"JavaScript", "TypeScript"}
	case LanguageJava:
		return []string{"Java"}
	case LanguagePython:
		return []string{"Python"}
	}
	return nil
}
