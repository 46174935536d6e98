package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Pattern is a distinct (pattern, flags) pair.
type Pattern struct {
	ID      int64  `json:"id"`
	Pattern string `json:"pattern"`
	Flags   string `json:"flags"`
	Static  bool   `json:"static"`
	Dynamic bool   `json:"dynamic"`
}

// InsertPattern inserts the pattern unless (pattern, flags) already exists.
// It reports whether a row was created. Existing rows are left untouched.
func (s *Store) InsertPattern(ctx context.Context, pattern, flags string, static, dynamic bool) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO pattern (pattern, flags, static, dynamic) VALUES (?, ?, ?, ?)`,
		pattern, flags, boolToInt(static), boolToInt(dynamic),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert pattern: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert pattern: %w", err)
	}
	return n > 0, nil
}

// SetStaticFlag marks (pattern, flags) as seen by static extraction.
func (s *Store) SetStaticFlag(ctx context.Context, pattern, flags string) error {
	return s.setFlag(ctx, "static", pattern, flags)
}

// SetDynamicFlag marks (pattern, flags) as seen at runtime.
func (s *Store) SetDynamicFlag(ctx context.Context, pattern, flags string) error {
	return s.setFlag(ctx, "dynamic", pattern, flags)
}

func (s *Store) setFlag(ctx context.Context, column, pattern, flags string) error {
	if err := s.check(); err != nil {
		return err
	}
	// column is one of two constants
	query := fmt.Sprintf(`UPDATE pattern SET %s = 1 WHERE pattern = ? AND flags = ?`, column)
	if _, err := s.q.ExecContext(ctx, query, pattern, flags); err != nil {
		return fmt.Errorf("failed to set %s flag: %w", column, err)
	}
	return nil
}

// UpsertPattern stores the pattern and upgrades its provenance flags, then
// returns its id. Flags that are already set are never cleared.
func (s *Store) UpsertPattern(ctx context.Context, pattern, flags string, static, dynamic bool) (int64, error) {
	if _, err := s.InsertPattern(ctx, pattern, flags, static, dynamic); err != nil {
		return 0, err
	}
	// the update runs even after a fresh insert; it is idempotent
	if static {
		if err := s.SetStaticFlag(ctx, pattern, flags); err != nil {
			return 0, err
		}
	}
	if dynamic {
		if err := s.SetDynamicFlag(ctx, pattern, flags); err != nil {
			return 0, err
		}
	}
	return s.PatternID(ctx, pattern, flags)
}

// PatternID returns the id of (pattern, flags).
func (s *Store) PatternID(ctx context.Context, pattern, flags string) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var id int64
	err := s.q.QueryRowContext(ctx,
		`SELECT id FROM pattern WHERE pattern = ? AND flags = ?`, pattern, flags,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("pattern %q: %w", pattern, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up pattern: %w", err)
	}
	return id, nil
}

// PatternByID returns the pattern with the given id.
func (s *Store) PatternByID(ctx context.Context, id int64) (*Pattern, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	p := &Pattern{}
	err := s.q.QueryRowContext(ctx,
		`SELECT id, pattern, flags, static, dynamic FROM pattern WHERE id = ?`, id,
	).Scan(&p.ID, &p.Pattern, &p.Flags, &p.Static, &p.Dynamic)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return p, nil
}

// PatternTexts returns the pattern text for each id that exists.
func (s *Store) PatternTexts(ctx context.Context, ids []int64) (map[int64]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(ids))
	// stay well below SQLITE_MAX_VARIABLE_NUMBER
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := `SELECT id, pattern FROM pattern WHERE id IN (?` +
			strings.Repeat(", ?", len(batch)-1) + `)`
		rows, err := s.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get patterns: %w", err)
		}
		for rows.Next() {
			var id int64
			var text string
			if err := rows.Scan(&id, &text); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan pattern: %w", err)
			}
			out[id] = text
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to get patterns: %w", err)
		}
	}
	return out, nil
}

// PatternFilter narrows FindPatterns. Zero values match everything.
type PatternFilter struct {
	Substring    string
	StaticOnly   bool
	DynamicOnly  bool
	MetacharOnly bool
	ProjectID    int64
	Limit        int
}

// FindPatterns lists patterns ordered by id.
func (s *Store) FindPatterns(ctx context.Context, f PatternFilter) ([]Pattern, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if f.Substring != "" {
		where = append(where, `instr(p.pattern, ?) > 0`)
		args = append(args, f.Substring)
	}
	if f.StaticOnly {
		where = append(where, `p.static = 1`)
	}
	if f.DynamicOnly {
		where = append(where, `p.dynamic = 1`)
	}
	if f.MetacharOnly {
		where = append(where, `is_metachar_regex(p.pattern)`)
	}
	if f.ProjectID != 0 {
		where = append(where, `p.id IN (
			SELECT pattern_id FROM source_usage WHERE project_id = ?
			UNION
			SELECT pattern_id FROM subject_usage WHERE project_id = ?)`)
		args = append(args, f.ProjectID, f.ProjectID)
	}

	query := `SELECT p.id, p.pattern, p.flags, p.static, p.dynamic FROM pattern p`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY p.id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.ID, &p.Pattern, &p.Flags, &p.Static, &p.Dynamic); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EachPattern calls fn for every pattern in id order and stops at the first
// error fn returns.
func (s *Store) EachPattern(ctx context.Context, fn func(Pattern) error) error {
	if err := s.check(); err != nil {
		return err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, pattern, flags, static, dynamic FROM pattern ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.ID, &p.Pattern, &p.Flags, &p.Static, &p.Dynamic); err != nil {
			return fmt.Errorf("failed to scan pattern: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}
