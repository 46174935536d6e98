package evaluate

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Report is the document written by an evaluation run.
type Report struct {
	RunID       uuid.UUID    `json:"run_id"`
	CorpusPath  string       `json:"corpus"`
	DFAPath     string       `json:"dfas"`
	GeneratedAt time.Time    `json:"generated_at"`
	Summary     Summary      `json:"summary"`
	Results     []TestResult `json:"results"`
}

// NewReport wraps results in a report with a fresh run id.
func NewReport(corpusPath, dfaPath string, results []TestResult, sum Summary) *Report {
	if results == nil {
		results = []TestResult{}
	}
	return &Report{
		RunID:       uuid.New(),
		CorpusPath:  corpusPath,
		DFAPath:     dfaPath,
		GeneratedAt: time.Now().UTC(),
		Summary:     sum,
		Results:     results,
	}
}

// Write encodes the report as indented JSON.
func (r *Report) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ReadReport decodes a report written by Write.
func ReadReport(r io.Reader) (*Report, error) {
	var rep Report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return &rep, nil
}
