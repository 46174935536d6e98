// Package extraction defines the records produced by the static and dynamic
// extractors and the NDJSON streams used to hand them to the corpus.
package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leapstack-labs/regexcorpus/internal/status"
)

// SourceLanguage is the primary language of a project.
type SourceLanguage string

// Supported source languages.
const (
	LanguageJavaScript SourceLanguage = "JAVASCRIPT"
	LanguageJava       SourceLanguage = "JAVA"
	LanguagePython     SourceLanguage = "PYTHON"
)

// ParseSourceLanguage accepts the upper case names stored in the corpus.
func ParseSourceLanguage(s string) (SourceLanguage, error) {
	switch l := SourceLanguage(strings.ToUpper(strings.TrimSpace(s))); l {
	case LanguageJavaScript, LanguageJava, LanguagePython:
		return l, nil
	}
	return "", fmt.Errorf("unknown source language %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *SourceLanguage) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSourceLanguage(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// PackageSpec identifies a project. Repo is its natural key.
type PackageSpec struct {
	Name      string         `json:"name"`
	Repo      string         `json:"repo"`
	License   string         `json:"license"`
	Language  SourceLanguage `json:"language"`
	Downloads int64          `json:"downloads"`
}

// RegexEntity is a pattern found by a static extractor.
type RegexEntity struct {
	Pattern    string `json:"pattern"`
	Flags      string `json:"flags"`
	LineNo     int64  `json:"line_no"`
	SourceFile string `json:"source_file"`
	Commit     string `json:"commit"`
}

// UsageRecord is one call of a regex on a subject observed while running tests.
type UsageRecord struct {
	Pattern  string  `json:"pattern"`
	Subject  Subject `json:"subject"`
	Stack    string  `json:"stack"`
	FuncName string  `json:"funcName"`
}

// Subject is the input string of a usage. Instrumented runtimes sometimes log
// numbers or null in its place; numbers keep their literal text and null
// becomes the empty string.
type Subject string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Subject) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Subject(str)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("subject must be a string, number or null: %w", err)
	}
	*s = Subject(n.String())
	return nil
}

// Result is everything extracted from one project.
type Result struct {
	Project    PackageSpec   `json:"project"`
	Dependents []PackageSpec `json:"dependents,omitempty"`
	Status     status.Value  `json:"status"`
	Regexes    []RegexEntity `json:"regexes,omitempty"`
	Usages     []UsageRecord `json:"usages,omitempty"`
	LOC        *LOC          `json:"loc,omitempty"`
}

// Validate checks the fields the corpus relies on.
func (r *Result) Validate() error {
	if r.Project.Repo == "" {
		return fmt.Errorf("project repo is required")
	}
	if r.Status.Status == nil {
		return fmt.Errorf("project %s has no status", r.Project.Repo)
	}
	return nil
}
