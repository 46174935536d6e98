package merge

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/regexcorpus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepSQL is a regex matching the statement of each step.
var stepSQL = map[string]string{
	"insert-patterns":          `INSERT OR IGNORE INTO main\.pattern `,
	"upgrade-static-flags":     `UPDATE main\.pattern SET static = 1`,
	"upgrade-dynamic-flags":    `UPDATE main\.pattern SET dynamic = 1`,
	"insert-projects":          `INSERT OR IGNORE INTO main\.project \(name`,
	"rekey-source-usages":      `INSERT OR IGNORE INTO main\.source_usage`,
	"rekey-subject-usages":     `INSERT OR IGNORE INTO main\.subject_usage`,
	"rekey-processing-reports": `INSERT OR IGNORE INTO main\.processing_report`,
	"rekey-duplicate-projects": `INSERT OR IGNORE INTO main\.duplicate_project`,
	"rekey-project-loc":        `INSERT OR IGNORE INTO main\.project_loc_info`,
}

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func TestPlanFor(t *testing.T) {
	v1, err := PlanFor(V1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"insert-patterns",
		"upgrade-static-flags",
		"upgrade-dynamic-flags",
		"insert-projects",
		"rekey-source-usages",
		"rekey-subject-usages",
	}, stepNames(v1))

	v2, err := PlanFor(V2)
	require.NoError(t, err)
	assert.Equal(t, stepNames(v1), stepNames(v2)[:len(v1)])
	assert.Equal(t, []string{
		"rekey-processing-reports",
		"rekey-duplicate-projects",
		"rekey-project-loc",
	}, stepNames(v2)[len(v1):])

	_, err = PlanFor("v3")
	require.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"v1", V1, false},
		{"1", V1, false},
		{"V2", V2, false},
		{"2", V2, false},
		{"", V2, false},
		{"v3", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSteps_Individually(t *testing.T) {
	steps, err := PlanFor(V2)
	require.NoError(t, err)

	for _, step := range steps {
		t.Run(step.Name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()

			mock.ExpectExec(stepSQL[step.Name]).WillReturnResult(sqlmock.NewResult(0, 7))

			n, err := step.Run(context.Background(), db)
			require.NoError(t, err)
			assert.Equal(t, int64(7), n)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMergeConn_CommitsAllSteps(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	steps, err := PlanFor(V1)
	require.NoError(t, err)

	mock.ExpectExec("ATTACH DATABASE").WithArgs("shard.db").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	for i, step := range steps {
		mock.ExpectExec(stepSQL[step.Name]).WillReturnResult(sqlmock.NewResult(0, int64(i)))
	}
	mock.ExpectCommit()
	mock.ExpectExec("DETACH DATABASE merge_db").WillReturnResult(sqlmock.NewResult(0, 0))

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	sum, err := MergeConn(ctx, conn, "shard.db", V1, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, V1, sum.Version)
	require.Len(t, sum.Steps, len(steps))
	assert.Equal(t, int64(3), sum.Rows("insert-projects"))
	assert.Equal(t, int64(0), sum.Rows("no-such-step"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeConn_RollsBackOnFailedStep(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("ATTACH DATABASE").WithArgs("shard.db").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(stepSQL["insert-patterns"]).WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec(stepSQL["upgrade-static-flags"]).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stepSQL["upgrade-dynamic-flags"]).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stepSQL["insert-projects"]).WillReturnError(assert.AnError)
	mock.ExpectRollback()
	mock.ExpectExec("DETACH DATABASE merge_db").WillReturnResult(sqlmock.NewResult(0, 0))

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = MergeConn(ctx, conn, "shard.db", V2, testutil.NewTestLogger(t))
	require.Error(t, err)
	require.ErrorIs(t, err, assert.AnError)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "insert-projects", stepErr.Step)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeConn_AttachFailure(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("ATTACH DATABASE").WillReturnError(assert.AnError)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = MergeConn(ctx, conn, "missing.db", V1, nil)
	require.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
