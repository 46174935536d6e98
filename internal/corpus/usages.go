package corpus

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/regexcorpus/internal/extraction"
)

// InsertSourceUsage records where a statically extracted pattern appears.
// The pattern is stored with its flags and marked static.
func (s *Store) InsertSourceUsage(ctx context.Context, projectID int64, e extraction.RegexEntity) error {
	patternID, err := s.UpsertPattern(ctx, e.Pattern, e.Flags, true, false)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO source_usage (line_no, source_file, commit_hash, project_id, pattern_id)
		 VALUES (?, ?, ?, ?, ?)`,
		e.LineNo, e.SourceFile, e.Commit, projectID, patternID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert source usage: %w", err)
	}
	return nil
}

// InsertSubjectUsage records a subject a pattern was evaluated on at runtime.
// Runtime usages carry no flags, so the pattern is stored with empty flags
// and marked dynamic.
func (s *Store) InsertSubjectUsage(ctx context.Context, projectID int64, u extraction.UsageRecord) error {
	patternID, err := s.UpsertPattern(ctx, u.Pattern, "", false, true)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO subject_usage (pattern_id, project_id, subject, matches, func)
		 VALUES (?, ?, ?, 0, ?)`,
		patternID, projectID, string(u.Subject), u.FuncName,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subject usage: %w", err)
	}
	return nil
}

// SaveSummary counts what SaveExtraction wrote.
type SaveSummary struct {
	ProjectID    int64
	SourceUsages int
	Usages       int
	Dependents   int
}

// SaveExtraction writes one project's extraction result in a single
// transaction: the project, its dependents, its processing report and line
// counts, then every static regex and runtime usage.
func (s *Store) SaveExtraction(ctx context.Context, res extraction.Result) (SaveSummary, error) {
	if err := res.Validate(); err != nil {
		return SaveSummary{}, err
	}

	var sum SaveSummary
	err := s.RunTx(ctx, func(tx *Store) error {
		sum = SaveSummary{}
		id, err := tx.InsertProject(ctx, res.Project)
		if err != nil {
			return err
		}
		sum.ProjectID = id

		for _, dep := range res.Dependents {
			if err := tx.InsertDependentProject(ctx, id, dep); err != nil {
				return err
			}
			sum.Dependents++
		}
		if err := tx.InsertProcessingReport(ctx, id, res.Status.Status); err != nil {
			return err
		}
		if res.LOC != nil {
			if err := tx.InsertProjectLOC(ctx, id, *res.LOC); err != nil {
				return err
			}
		} else {
			tx.logger.Debug("no line counts for project", "repo", res.Project.Repo)
		}

		for _, e := range res.Regexes {
			if err := tx.InsertSourceUsage(ctx, id, e); err != nil {
				return err
			}
			sum.SourceUsages++
		}
		for _, u := range res.Usages {
			if err := tx.InsertSubjectUsage(ctx, id, u); err != nil {
				return err
			}
			sum.Usages++
		}
		return nil
	})
	if err != nil {
		return SaveSummary{}, fmt.Errorf("failed to save extraction for %s: %w", res.Project.Repo, err)
	}
	return sum, nil
}
