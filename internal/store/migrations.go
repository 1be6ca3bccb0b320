package store

import (
	"database/sql"
	"fmt"
	"sort"
)

// migration describes a single forward schema change. centrix-ci's
// schema only ever grows, so unlike the control-plane migration runner
// this package is ported from, there is no Down/Rollback path — adding
// one would need a real use case to justify it.
type migration struct {
	version     int
	description string
	up          string
}

var migrations = []migration{
	{1, "create schema_version table", `
CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER NOT NULL,
	applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
	{2, "create projects table", `
CREATE TABLE projects (
	id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id      TEXT NOT NULL,
	forge_repo     TEXT NOT NULL,
	display_name   TEXT NOT NULL,
	default_branch TEXT NOT NULL DEFAULT 'main',
	pipeline_config JSONB NOT NULL DEFAULT '{}',
	local_path     TEXT NOT NULL DEFAULT '',
	active         BOOLEAN NOT NULL DEFAULT true,
	create_uid     TEXT NOT NULL DEFAULT '',
	create_date    TIMESTAMPTZ NOT NULL DEFAULT now(),
	write_uid      TEXT NOT NULL DEFAULT '',
	write_date     TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted        BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (tenant_id, forge_repo)
)`},
	{3, "create triggers table", `
CREATE TABLE triggers (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id   TEXT NOT NULL,
	project_id  UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	branch_glob TEXT NOT NULL DEFAULT '*',
	enabled     BOOLEAN NOT NULL DEFAULT true,
	create_uid  TEXT NOT NULL DEFAULT '',
	create_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	write_uid   TEXT NOT NULL DEFAULT '',
	write_date  TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted     BOOLEAN NOT NULL DEFAULT false
)`},
	{4, "create builds table", `
CREATE TABLE builds (
	id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id         TEXT NOT NULL,
	project_id        UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	commit_sha        CHAR(40) NOT NULL,
	branch            TEXT NOT NULL,
	pr_number         INTEGER,
	author            TEXT NOT NULL DEFAULT '',
	message           TEXT NOT NULL DEFAULT '',
	dedup_fingerprint TEXT NOT NULL,
	trigger_event     TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	started_at        TIMESTAMPTZ,
	finished_at       TIMESTAMPTZ,
	duration_ms       BIGINT,
	summary           JSONB,
	create_uid        TEXT NOT NULL DEFAULT '',
	create_date       TIMESTAMPTZ NOT NULL DEFAULT now(),
	write_uid         TEXT NOT NULL DEFAULT '',
	write_date        TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted           BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX builds_fingerprint_idx ON builds (tenant_id, dedup_fingerprint, create_date);
CREATE INDEX builds_status_idx ON builds (status, create_date);
CREATE INDEX builds_project_branch_idx ON builds (project_id, branch, create_date DESC)`},
	{5, "create steps table", `
CREATE TABLE steps (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	build_id    UUID NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	sequence    INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	duration_ms BIGINT,
	exit_code   INTEGER,
	stdout      TEXT NOT NULL DEFAULT '',
	stderr      TEXT NOT NULL DEFAULT '',
	UNIQUE (build_id, sequence)
);
CREATE INDEX steps_build_idx ON steps (build_id)`},
	{6, "create errors and error_occurrences tables", `
CREATE TABLE errors (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id        TEXT NOT NULL,
	project_id       UUID REFERENCES projects(id) ON DELETE CASCADE,
	fingerprint      TEXT NOT NULL,
	category         TEXT NOT NULL,
	severity         TEXT NOT NULL DEFAULT 'error',
	title            TEXT NOT NULL,
	first_seen       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen        TIMESTAMPTZ NOT NULL DEFAULT now(),
	occurrence_count INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'open',
	raw              TEXT NOT NULL,
	normalized       TEXT NOT NULL,
	UNIQUE (tenant_id, fingerprint)
);
CREATE TABLE error_occurrences (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	error_id   UUID NOT NULL REFERENCES errors(id) ON DELETE CASCADE,
	build_id   UUID NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
	step_name  TEXT NOT NULL,
	raw        TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX error_occurrences_error_idx ON error_occurrences (error_id, created_at DESC)`},
	{7, "create environments table", `
CREATE TABLE environments (
	id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id         TEXT NOT NULL,
	project_id        UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	pr_number         INTEGER NOT NULL,
	status            TEXT NOT NULL DEFAULT 'requested',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_activity_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	destroyed_at      TIMESTAMPTZ
);
CREATE INDEX environments_status_idx ON environments (status, last_activity_at)`},
	{8, "create artifacts table", `
CREATE TABLE artifacts (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	build_id   UUID NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	content    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
}

// migrate applies every pending migration to db in version order, each
// inside its own transaction.
func migrate(db *sql.DB) error {
	sorted := make([]migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].version < sorted[j].version })

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range sorted {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_name = 'schema_version'
	)`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx for v%d: %w", m.version, err)
	}

	if _, err := tx.Exec(m.up); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply v%d (%s): %w", m.version, m.description, err)
	}

	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, m.version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record v%d: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit v%d: %w", m.version, err)
	}
	return nil
}
