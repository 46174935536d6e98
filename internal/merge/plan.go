// Package merge folds corpus shards into an accumulator corpus.
//
// Shards are attached to the accumulator connection as merge_db. Rows are
// copied with INSERT OR IGNORE and every foreign key is re-derived by joining
// on natural keys: patterns on (pattern, flags) and projects on repo. Shard
// row ids never leak into the accumulator.
package merge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ShardSchema is the name a shard is attached under.
const ShardSchema = "merge_db"

// Version selects which tables a merge covers.
type Version string

// Merge versions. V1 covers patterns, projects and usages. V2 adds
// processing reports, dependent projects and line counts.
const (
	V1 Version = "v1"
	V2 Version = "v2"

	DefaultVersion = V2
)

// ParseVersion accepts "v1", "v2", "1" or "2".
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v1", "1":
		return V1, nil
	case "v2", "2", "":
		return V2, nil
	}
	return "", fmt.Errorf("unknown merge version %q (want v1 or v2)", s)
}

// Execer runs a statement. *sql.Tx and *sql.Conn satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Step is one statement of a merge plan.
type Step struct {
	Name string
	Run  func(ctx context.Context, q Execer) (int64, error)
}

// execStep runs query and reports the rows it changed.
func execStep(name, query string) Step {
	return Step{
		Name: name,
		Run: func(ctx context.Context, q Execer) (int64, error) {
			res, err := q.ExecContext(ctx, query)
			if err != nil {
				return 0, err
			}
			return res.RowsAffected()
		},
	}
}

const (
	insertPatternsSQL = `
INSERT OR IGNORE INTO main.pattern (pattern, flags, static, dynamic)
SELECT pattern, flags, static, dynamic FROM merge_db.pattern ORDER BY id`

	upgradeStaticSQL = `
UPDATE main.pattern SET static = 1
WHERE id IN (
    SELECT p.id FROM main.pattern p
    JOIN merge_db.pattern m ON m.pattern = p.pattern AND m.flags = p.flags
    WHERE m.static = 1 AND p.static = 0)`

	upgradeDynamicSQL = `
UPDATE main.pattern SET dynamic = 1
WHERE id IN (
    SELECT p.id FROM main.pattern p
    JOIN merge_db.pattern m ON m.pattern = p.pattern AND m.flags = p.flags
    WHERE m.dynamic = 1 AND p.dynamic = 0)`

	insertProjectsSQL = `
INSERT OR IGNORE INTO main.project (name, repo, license, language, downloads)
SELECT name, repo, license, language, downloads FROM merge_db.project ORDER BY id`

	rekeySourceUsagesSQL = `
INSERT OR IGNORE INTO main.source_usage (line_no, source_file, commit_hash, project_id, pattern_id)
SELECT su.line_no, su.source_file, su.commit_hash, ap.id, apat.id
FROM merge_db.source_usage su
JOIN merge_db.project sp ON sp.id = su.project_id
JOIN main.project ap ON ap.repo = sp.repo
JOIN merge_db.pattern spat ON spat.id = su.pattern_id
JOIN main.pattern apat ON apat.pattern = spat.pattern AND apat.flags = spat.flags
ORDER BY su.id`

	rekeySubjectUsagesSQL = `
INSERT OR IGNORE INTO main.subject_usage (pattern_id, project_id, subject, matches, func)
SELECT apat.id, ap.id, su.subject, su.matches, su.func
FROM merge_db.subject_usage su
JOIN merge_db.project sp ON sp.id = su.project_id
JOIN main.project ap ON ap.repo = sp.repo
JOIN merge_db.pattern spat ON spat.id = su.pattern_id
JOIN main.pattern apat ON apat.pattern = spat.pattern AND apat.flags = spat.flags
ORDER BY su.id`

	rekeyReportsSQL = `
INSERT OR IGNORE INTO main.processing_report (project_id, status)
SELECT ap.id, r.status
FROM merge_db.processing_report r
JOIN merge_db.project sp ON sp.id = r.project_id
JOIN main.project ap ON ap.repo = sp.repo`

	rekeyDuplicatesSQL = `
INSERT OR IGNORE INTO main.duplicate_project (name, downloads, parent_project_id)
SELECT d.name, d.downloads, ap.id
FROM merge_db.duplicate_project d
JOIN merge_db.project sp ON sp.id = d.parent_project_id
JOIN main.project ap ON ap.repo = sp.repo
ORDER BY d.id`

	rekeyLOCSQL = `
INSERT OR IGNORE INTO main.project_loc_info (project_id, files, blank, comment, code)
SELECT ap.id, l.files, l.blank, l.comment, l.code
FROM merge_db.project_loc_info l
JOIN merge_db.project sp ON sp.id = l.project_id
JOIN main.project ap ON ap.repo = sp.repo`
)

func planV1() []Step {
	return []Step{
		execStep("insert-patterns", insertPatternsSQL),
		execStep("upgrade-static-flags", upgradeStaticSQL),
		execStep("upgrade-dynamic-flags", upgradeDynamicSQL),
		execStep("insert-projects", insertProjectsSQL),
		execStep("rekey-source-usages", rekeySourceUsagesSQL),
		execStep("rekey-subject-usages", rekeySubjectUsagesSQL),
	}
}

func planV2() []Step {
	return append(planV1(),
		execStep("rekey-processing-reports", rekeyReportsSQL),
		execStep("rekey-duplicate-projects", rekeyDuplicatesSQL),
		execStep("rekey-project-loc", rekeyLOCSQL),
	)
}

// PlanFor returns the ordered steps for version. Parents are always merged
// before the rows that reference them.
func PlanFor(version Version) ([]Step, error) {
	switch version {
	case V1:
		return planV1(), nil
	case V2:
		return planV2(), nil
	}
	return nil, fmt.Errorf("unknown merge version %q", version)
}
