package usage

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version     int
	description string
	stmt        string
}

// migrations must stay in ascending version order. Applied versions are never edited.
var migrations = []migration{
	{
		version:     1,
		description: "create model_usage",
		stmt: `CREATE TABLE IF NOT EXISTS model_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_name TEXT NOT NULL,
			operation TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			duration_seconds REAL NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL
		)`,
	},
	{
		version:     2,
		description: "index model_usage by model",
		stmt:        `CREATE INDEX IF NOT EXISTS idx_model_usage_model ON model_usage(model_name)`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}
	for _, m := range migrations {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _migrations WHERE version = ?", m.version).Scan(&n); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if n > 0 {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (version, description) VALUES (?, ?)", m.version, m.description); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
