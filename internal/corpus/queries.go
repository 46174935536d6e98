package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// SubjectUsageRow is one runtime usage joined with its pattern text.
type SubjectUsageRow struct {
	PatternID int64
	Pattern   string
	ProjectID int64
	Subject   string
}

// RowFilter narrows SubjectUsageRows.
type RowFilter struct {
	// MetacharOnly keeps patterns containing at least one regex metacharacter.
	MetacharOnly bool
	// ProjectID restricts rows to one project when non-zero.
	ProjectID int64
}

// SubjectUsageRows returns runtime usages ordered by project, pattern and subject.
func (s *Store) SubjectUsageRows(ctx context.Context, f RowFilter) ([]SubjectUsageRow, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	query := `SELECT p.id, p.pattern, su.project_id, su.subject
		FROM subject_usage su
		JOIN pattern p ON p.id = su.pattern_id
		WHERE 1 = 1`
	var args []any
	if f.MetacharOnly {
		query += ` AND is_metachar_regex(p.pattern)`
	}
	if f.ProjectID != 0 {
		query += ` AND su.project_id = ?`
		args = append(args, f.ProjectID)
	}
	query += ` ORDER BY su.project_id, p.pattern, su.subject`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subject usages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SubjectUsageRow
	for rows.Next() {
		var r SubjectUsageRow
		if err := rows.Scan(&r.PatternID, &r.Pattern, &r.ProjectID, &r.Subject); err != nil {
			return nil, fmt.Errorf("failed to scan subject usage: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CandidatePatternIDs returns the distinct ids of patterns the project uses,
// statically or at runtime, in ascending order.
func (s *Store) CandidatePatternIDs(ctx context.Context, projectID int64) ([]int64, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT pattern_id FROM source_usage WHERE project_id = ?
		UNION
		SELECT pattern_id FROM subject_usage WHERE project_id = ?
		ORDER BY 1`, projectID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TableExists reports whether the named table exists in the main schema.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return n > 0, nil
}

// Stats summarizes corpus contents.
type Stats struct {
	Patterns       int64            `json:"patterns"`
	StaticOnly     int64            `json:"static_only"`
	DynamicOnly    int64            `json:"dynamic_only"`
	Both           int64            `json:"both"`
	Projects       int64            `json:"projects"`
	SourceUsages   int64            `json:"source_usages"`
	SubjectUsages  int64            `json:"subject_usages"`
	Dependents     int64            `json:"dependents"`
	ReportsByState map[string]int64 `json:"reports_by_status,omitempty"`
}

// Stats counts rows per table and patterns per provenance.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	st := &Stats{}
	err := s.q.QueryRowContext(ctx, `
		SELECT
			count(*),
			coalesce(sum(static = 1 AND dynamic = 0), 0),
			coalesce(sum(static = 0 AND dynamic = 1), 0),
			coalesce(sum(static = 1 AND dynamic = 1), 0),
			(SELECT count(*) FROM project),
			(SELECT count(*) FROM source_usage),
			(SELECT count(*) FROM subject_usage)
		FROM pattern`,
	).Scan(&st.Patterns, &st.StaticOnly, &st.DynamicOnly, &st.Both,
		&st.Projects, &st.SourceUsages, &st.SubjectUsages)
	if err != nil {
		return nil, fmt.Errorf("failed to count corpus rows: %w", err)
	}

	hasReports, err := s.TableExists(ctx, "processing_report")
	if err != nil || !hasReports {
		return st, err
	}
	if err := s.q.QueryRowContext(ctx, `SELECT count(*) FROM duplicate_project`).Scan(&st.Dependents); err != nil {
		return nil, fmt.Errorf("failed to count dependents: %w", err)
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT status, count(*) FROM processing_report GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	defer func() { _ = rows.Close() }()
	st.ReportsByState = make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan report count: %w", err)
		}
		st.ReportsByState[name] = n
	}
	return st, rows.Err()
}

// Fingerprint identifies the pattern table contents. Two corpora with the
// same fingerprint assign the same ids to the same (pattern, flags) pairs.
type Fingerprint struct {
	Patterns int64  `json:"patterns"`
	MaxID    int64  `json:"max_id"`
	Digest   string `json:"digest"`
}

// Fingerprint hashes every (id, pattern, flags) row in id order.
func (s *Store) Fingerprint(ctx context.Context) (Fingerprint, error) {
	if err := s.check(); err != nil {
		return Fingerprint{}, err
	}
	rows, err := s.q.QueryContext(ctx, `SELECT id, pattern, flags FROM pattern ORDER BY id`)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to read patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	h := sha256.New()
	var fp Fingerprint
	for rows.Next() {
		var id int64
		var pattern, flags string
		if err := rows.Scan(&id, &pattern, &flags); err != nil {
			return Fingerprint{}, fmt.Errorf("failed to scan pattern: %w", err)
		}
		fp.Patterns++
		fp.MaxID = max(fp.MaxID, id)
		h.Write([]byte(strconv.FormatInt(id, 10)))
		h.Write([]byte{0})
		h.Write([]byte(pattern))
		h.Write([]byte{0})
		h.Write([]byte(flags))
		h.Write([]byte{'\n'})
	}
	if err := rows.Err(); err != nil {
		return Fingerprint{}, fmt.Errorf("failed to read patterns: %w", err)
	}
	fp.Digest = hex.EncodeToString(h.Sum(nil))
	return fp, nil
}
