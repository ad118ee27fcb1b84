package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaVersion is the current schema version, len(migrations).
const SchemaVersion = 1

const schemaV1 = `
-- Every panel the registry knows about, simulated or loaded from a survey
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    name TEXT,
    kind TEXT NOT NULL,          -- 'simulated', 'survey'
    created_at TEXT NOT NULL,
    seed TEXT,                   -- decimal uint64; empty for survey panels
    noise TEXT,

    respondents INTEGER NOT NULL,
    tasks INTEGER NOT NULL,
    alternatives INTEGER NOT NULL,
    levels INTEGER NOT NULL,
    covariates INTEGER NOT NULL,
    holdout INTEGER DEFAULT 0,

    source TEXT,                 -- survey directory or archive path
    record BLOB NOT NULL,        -- archive-encoded canonical record
    checksum TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

-- Model fits against a run
CREATE TABLE IF NOT EXISTS fits (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    model TEXT NOT NULL,
    created_at TEXT NOT NULL,
    chains INTEGER NOT NULL DEFAULT 0,
    draws INTEGER NOT NULL DEFAULT 0,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    summary TEXT                 -- JSON
);
CREATE INDEX IF NOT EXISTS idx_fits_run ON fits(run_id);

-- Schema version
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// migrations[i] upgrades a database from version i to version i+1.
var migrations = []string{schemaV1}

// InitSchema brings db up to SchemaVersion. An existing database is
// integrity-checked first; one written by a newer dcesim is rejected.
func InitSchema(ctx context.Context, db *sql.DB) error {
	current, err := getSchemaVersion(ctx, db)
	if err != nil {
		// no schema_version table: fresh database
		current = 0
	} else if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	for v := current; v < SchemaVersion; v++ {
		if err := migrate(ctx, db, v+1, migrations[v]); err != nil {
			return fmt.Errorf("failed to migrate schema to version %d: %w", v+1, err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// migrate runs one migration and records version in the same transaction.
func migrate(ctx context.Context, db *sql.DB, version int, stmt string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		version); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// ValidateIntegrity runs SQLite's integrity and foreign key checks and
// reports every problem found.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	problems, err := pragmaRows(ctx, db, "integrity_check")
	if err != nil {
		return err
	}
	if len(problems) != 1 || problems[0] != "ok" {
		return fmt.Errorf("integrity_check failed: %s", strings.Join(problems, "; "))
	}

	problems, err = pragmaRows(ctx, db, "foreign_key_check")
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("foreign_key_check failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// pragmaRows runs PRAGMA name and renders each result row as text.
func pragmaRows(ctx context.Context, db *sql.DB, name string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA "+name)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s result: %w", name, err)
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = v.String
		}
		out = append(out, strings.Join(parts, " "))
	}
	return out, rows.Err()
}
