package database

import (
	"context"
	"fmt"
)

// statements are applied in order on startup; each must be idempotent.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		remote_id TEXT NOT NULL,
		name TEXT NOT NULL,
		protected BOOLEAN NOT NULL DEFAULT TRUE,
		sync_interval BIGINT NOT NULL DEFAULT 0,
		last_synced_at TIMESTAMPTZ,
		stale_since TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT workflows_owner_remote_key UNIQUE (owner_id, remote_id)
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_versions (
		id UUID PRIMARY KEY,
		workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		version_no INTEGER NOT NULL,
		kind TEXT NOT NULL,
		created_by TEXT NOT NULL,
		note TEXT,
		checksum TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT workflow_versions_number_key UNIQUE (workflow_id, version_no)
	)`,
	`CREATE TABLE IF NOT EXISTS overages (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		resource TEXT NOT NULL,
		period_start DATE NOT NULL,
		period_end DATE NOT NULL,
		amount INTEGER NOT NULL DEFAULT 1,
		billed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS overages_open_period_key
		ON overages (owner_id, resource, period_start, period_end)
		WHERE billed_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		old_value JSONB,
		new_value JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS account_credentials (
		account_id TEXT PRIMARY KEY,
		encrypted_key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS workflows_owner_idx ON workflows (owner_id)`,
	`CREATE INDEX IF NOT EXISTS workflow_versions_workflow_idx ON workflow_versions (workflow_id)`,
	`CREATE INDEX IF NOT EXISTS audit_log_entity_idx ON audit_log (entity_type, entity_id)`,
}

// Migrate creates the schema objects the service depends on
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
