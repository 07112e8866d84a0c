package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations lists the schema in order. Append, never edit.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "create_session",
		SQL: `CREATE TABLE IF NOT EXISTS tbl_session (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			token TEXT NOT NULL UNIQUE,
			subject_id TEXT,
			data JSONB NOT NULL DEFAULT '{}',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	},
	{
		Version: 2,
		Name:    "create_grant",
		SQL: `CREATE TABLE IF NOT EXISTS tbl_grant (
			id UUID PRIMARY KEY,
			subject_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token BYTEA,
			refresh_token BYTEA,
			scope TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (subject_id, provider)
		)`,
	},
	{
		Version: 3,
		Name:    "index_grant_refreshable",
		SQL:     `CREATE INDEX IF NOT EXISTS idx_grant_refreshable ON tbl_grant (expires_at) WHERE refresh_token IS NOT NULL`,
	},
	{
		Version: 4,
		Name:    "create_license",
		SQL: `CREATE TABLE IF NOT EXISTS tbl_license (
			id UUID PRIMARY KEY,
			key_hash TEXT NOT NULL UNIQUE,
			bound_domain TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	},
}

// Migrate applies every migration newer than the recorded version, each in its own transaction.
func (db *Database) Migrate(ctx context.Context, logger *slog.Logger) error {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS tbl_migration (
		version INT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	var current int
	if err := db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM tbl_migration`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}

		err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO tbl_migration (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}

		logger.Info("Applied migration", slog.Int("version", m.Version), slog.String("name", m.Name))
	}

	return nil
}
