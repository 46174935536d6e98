package corpus

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Schema versions. Version 1 holds patterns, projects and usages. Version 2
// adds processing reports, dependent projects and line counts.
const (
	SchemaV1 int64 = 1
	SchemaV2 int64 = 2

	LatestSchema = SchemaV2
)

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (s *Store) withGoose(fn func() error) error {
	if err := s.check(); err != nil {
		return err
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: s.logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return fn()
}

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return s.withGoose(func() error {
		if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
}

// MigrateTo applies migrations up to and including version.
func (s *Store) MigrateTo(ctx context.Context, version int64) error {
	if version < SchemaV1 || version > LatestSchema {
		return fmt.Errorf("unknown schema version %d", version)
	}
	return s.withGoose(func() error {
		if err := goose.UpToContext(ctx, s.db, "migrations", version); err != nil {
			return fmt.Errorf("failed to migrate to version %d: %w", version, err)
		}
		return nil
	})
}

// SchemaVersion returns the applied migration version, 0 for an empty database.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.withGoose(func() error {
		v, err := goose.GetDBVersionContext(ctx, s.db)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}
