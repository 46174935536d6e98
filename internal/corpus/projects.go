package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leapstack-labs/regexcorpus/internal/extraction"
	"github.com/leapstack-labs/regexcorpus/internal/status"
)

// Project is a stored project row.
type Project struct {
	ID int64 `json:"id"`
	extraction.PackageSpec
}

// InsertProject stores spec unless its repo is already known and returns the project id.
func (s *Store) InsertProject(ctx context.Context, spec extraction.PackageSpec) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if spec.Repo == "" {
		return 0, fmt.Errorf("failed to insert project %q: repo is required", spec.Name)
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO project (name, repo, license, language, downloads) VALUES (?, ?, ?, ?, ?)`,
		spec.Name, spec.Repo, spec.License, string(spec.Language), spec.Downloads,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert project: %w", err)
	}
	p, err := s.ProjectByRepo(ctx, spec.Repo)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

// ProjectByRepo looks a project up by its natural key.
func (s *Store) ProjectByRepo(ctx context.Context, repo string) (*Project, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	p := &Project{}
	var language string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, repo, license, language, downloads FROM project WHERE repo = ?`, repo,
	).Scan(&p.ID, &p.Name, &p.Repo, &p.License, &language, &p.Downloads)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", repo, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.Language = extraction.SourceLanguage(language)
	return p, nil
}

// Projects lists all projects ordered by id.
func (s *Store) Projects(ctx context.Context) ([]Project, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, repo, license, language, downloads FROM project ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Project
	for rows.Next() {
		var p Project
		var language string
		if err := rows.Scan(&p.ID, &p.Name, &p.Repo, &p.License, &language, &p.Downloads); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Language = extraction.SourceLanguage(language)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertDependentProject records a project that duplicates parentID's repository.
func (s *Store) InsertDependentProject(ctx context.Context, parentID int64, spec extraction.PackageSpec) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO duplicate_project (name, downloads, parent_project_id) VALUES (?, ?, ?)`,
		spec.Name, spec.Downloads, parentID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dependent project: %w", err)
	}
	return nil
}

// InsertProcessingReport records how processing the project ended. The first
// report for a project wins.
func (s *Store) InsertProcessingReport(ctx context.Context, projectID int64, st status.Status) error {
	if err := s.check(); err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("failed to insert processing report: status is nil")
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO processing_report (project_id, status) VALUES (?, ?)`,
		projectID, st.DBStatus(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert processing report: %w", err)
	}
	return nil
}

// ProcessingStatus returns the recorded status of a project.
func (s *Store) ProcessingStatus(ctx context.Context, projectID int64) (status.Status, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var raw string
	err := s.q.QueryRowContext(ctx,
		`SELECT status FROM processing_report WHERE project_id = ?`, projectID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("processing report for project %d: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processing report: %w", err)
	}
	return status.Parse(raw)
}

// InsertProjectLOC records line counts for a project.
func (s *Store) InsertProjectLOC(ctx context.Context, projectID int64, loc extraction.LOC) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO project_loc_info (project_id, files, blank, comment, code) VALUES (?, ?, ?, ?, ?)`,
		projectID, loc.Files, loc.Blank, loc.Comment, loc.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project loc: %w", err)
	}
	return nil
}
