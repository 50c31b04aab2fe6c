package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const migrationsTableName = "schema_migrations"

// Migrator applies pending "up" scripts from an fs.FS and records them in
// schema_migrations.
type Migrator struct {
	db     *sqlx.DB
	fsys   fs.FS
	dir    string
	logger *zap.Logger
}

// NewMigrator creates a Migrator reading scripts from dir inside fsys.
func NewMigrator(db *sqlx.DB, fsys fs.FS, dir string, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, fsys: fsys, dir: dir, logger: logger.Named("migrator")}
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	version VARCHAR(32) PRIMARY KEY,
	description VARCHAR(255) NOT NULL,
	applied_at VARCHAR(64) NOT NULL
)`, migrationsTableName)
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create %s table: %w", migrationsTableName, err)
	}
	return nil
}

// AppliedVersions returns the versions recorded in schema_migrations.
func (m *Migrator) AppliedVersions(ctx context.Context) (map[int64]bool, error) {
	var versions []string
	err := m.db.SelectContext(ctx, &versions, "SELECT version FROM "+migrationsTableName)
	if err != nil {
		if isMissingTable(err) {
			return make(map[int64]bool), nil
		}
		return nil, fmt.Errorf("failed to query applied versions: %w", err)
	}

	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version format '%s' found in %s table: %w", v, migrationsTableName, err)
		}
		applied[n] = true
	}
	return applied, nil
}

// Migrate applies every pending "up" migration inside one transaction and
// returns how many were applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}
	files, err := DiscoverMigrations(m.fsys, m.dir)
	if err != nil {
		return 0, err
	}
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	var pending []MigrationFile
	for _, f := range files {
		if f.Direction == "up" && !applied[f.Version] {
			pending = append(pending, f)
		}
	}
	if len(pending) == 0 {
		m.logger.Debug("no pending migrations", zap.String("dir", m.dir))
		return 0, nil
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	for _, mig := range pending {
		script, err := fs.ReadFile(m.fsys, mig.FilePath)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to read migration file %s: %w", mig.FilePath, err)
		}
		for _, stmt := range SplitStatements(string(script)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return 0, fmt.Errorf("failed to execute migration %d (%s): %w", mig.Version, mig.Name, err)
			}
		}
		record := tx.Rebind(fmt.Sprintf("INSERT INTO %s (version, description, applied_at) VALUES (?, ?, ?)", migrationsTableName))
		if _, err := tx.ExecContext(ctx, record, strconv.FormatInt(mig.Version, 10), mig.Name, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to record applied version %d: %w", mig.Version, err)
		}
		m.logger.Info("applied migration", zap.Int64("version", mig.Version), zap.String("name", mig.Name))
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit migration transaction: %w", err)
	}
	return len(pending), nil
}

func isMissingTable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, `relation "schema_migrations" does not exist`) ||
		strings.Contains(msg, "table 'schema_migrations' doesn't exist")
}

func errorsIsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
