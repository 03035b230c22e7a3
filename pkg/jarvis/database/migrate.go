package database

import (
	"context"
	"fmt"
)

// migration is one forward-only schema step.
type migration struct {
	version  int
	name     string
	sqlite   string
	postgres string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create users",
		sqlite: `
			CREATE TABLE IF NOT EXISTS users (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id INTEGER NOT NULL UNIQUE,
				name        TEXT NOT NULL DEFAULT '',
				interests   TEXT NOT NULL DEFAULT '[]',
				goals       TEXT NOT NULL DEFAULT '[]',
				created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
		postgres: `
			CREATE TABLE IF NOT EXISTS users (
				id          BIGSERIAL PRIMARY KEY,
				external_id BIGINT NOT NULL UNIQUE,
				name        TEXT NOT NULL DEFAULT '',
				interests   TEXT NOT NULL DEFAULT '[]',
				goals       TEXT NOT NULL DEFAULT '[]',
				created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
}

// LatestVersion is the schema version after all migrations are applied.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// CurrentVersion returns the applied schema version (0 on a fresh database).
func CurrentVersion(ctx context.Context, db *DB) (int, error) {
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies every pending migration. Each step runs in its own
// transaction together with its schema_version record.
func Migrate(ctx context.Context, db *DB) (int, error) {
	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return 0, err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return current, fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		current = m.version
	}
	return current, nil
}

func apply(ctx context.Context, db *DB, m migration) error {
	stmt := m.sqlite
	if db.Dialect == DialectPostgres {
		stmt = m.postgres
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, Rebind(db.Dialect, "INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureVersionTable(ctx context.Context, db *DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if db.Dialect == DialectPostgres {
		ddl = `CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	return nil
}

// NeedsMigration reports whether pending migrations exist.
func NeedsMigration(ctx context.Context, db *DB) (bool, error) {
	v, err := CurrentVersion(ctx, db)
	if err != nil {
		return false, err
	}
	return v < LatestVersion(), nil
}
