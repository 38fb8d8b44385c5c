package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrateUp applies the embedded SQL migrations. Only PostgreSQL has a
// versioned migration path; MySQL and SQLite deployments rely on the
// per-store AutoMigrate calls plus EnsureConstraints.
func MigrateUp(gormDB *gorm.DB) error {
	if gormDB.Dialector.Name() != TypePostgres {
		return fmt.Errorf("versioned migrations require postgres, got %s", gormDB.Dialector.Name())
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("access underlying connection pool: %w", err)
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// EnsureConstraints creates the partial unique indexes that AutoMigrate
// cannot express:
//
//   - at most one active snapshot per plan
//   - at most one approval log entry into approved per plan
//   - at most one approved-to-published log entry per plan
//
// PostgreSQL gets these from the versioned migrations. MySQL has no partial
// indexes at all; there the guarantees rest entirely on the per-plan lock
// serializing writers.
func EnsureConstraints(gormDB *gorm.DB) error {
	if gormDB.Dialector.Name() != TypeSQLite {
		return nil
	}
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_snapshots_one_active
			ON plan_snapshots (plan_id) WHERE status = 'active'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_approvals_one_approve
			ON plan_approvals (plan_id) WHERE to_state = 'approved'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_approvals_one_promote
			ON plan_approvals (plan_id) WHERE from_state = 'approved' AND to_state = 'published'`,
	}
	for _, stmt := range stmts {
		if err := gormDB.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create constraint index: %w", err)
		}
	}
	return nil
}
