package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// FindProjectByRepo looks up the active project backing a forge
// "owner/name" repository. Returns ErrNotFound if none matches.
func (s *Store) FindProjectByRepo(ctx context.Context, tenantID, forgeRepo string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, forge_repo, display_name, default_branch,
		       pipeline_config, local_path, active,
		       create_uid, create_date, write_uid, write_date
		FROM projects
		WHERE tenant_id = $1 AND forge_repo = $2 AND active AND NOT deleted`,
		tenantID, forgeRepo)

	var p Project
	err := row.Scan(&p.ID, &p.TenantID, &p.ForgeRepo, &p.DisplayName, &p.DefaultBranch,
		&p.PipelineJSON, &p.LocalPath, &p.Active,
		&p.Audit.CreateUID, &p.Audit.CreateDate, &p.Audit.WriteUID, &p.Audit.WriteDate)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find project by repo: %w", err)
	}
	return &p, nil
}

// InsertBuild inserts b with status pending and populates b.ID and
// b.CreateDate on success.
func (s *Store) InsertBuild(ctx context.Context, b *Build) error {
	b.Status = BuildPending
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO builds (tenant_id, project_id, commit_sha, branch, pr_number,
		                     author, message, dedup_fingerprint, trigger_event, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, create_date`,
		b.TenantID, b.ProjectID, b.CommitSHA, b.Branch, b.PRNumber,
		b.Author, b.Message, b.DedupFingerprint, b.TriggerEvent, b.Status)
	if err := row.Scan(&b.ID, &b.Audit.CreateDate); err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	return nil
}

// IsDuplicate reports whether a non-deleted build with fingerprint was
// created for tenantID within the last window. A window of zero or less
// disables throttling by time and matches any build with fingerprint,
// regardless of age.
func (s *Store) IsDuplicate(ctx context.Context, tenantID, fingerprint string, window time.Duration) (bool, error) {
	var exists bool
	var err error
	if window <= 0 {
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM builds
				WHERE tenant_id = $1 AND dedup_fingerprint = $2 AND NOT deleted
			)`, tenantID, fingerprint).Scan(&exists)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM builds
				WHERE tenant_id = $1 AND dedup_fingerprint = $2 AND NOT deleted
				AND create_date > $3
			)`, tenantID, fingerprint, time.Now().UTC().Add(-window)).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return exists, nil
}

// CountRunningBuilds returns the number of builds currently in the
// running state for tenantID, used by the scheduler's admission check.
func (s *Store) CountRunningBuilds(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM builds WHERE tenant_id = $1 AND status = $2`,
		tenantID, BuildRunning).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running builds: %w", err)
	}
	return n, nil
}

// ClaimNextPendingBuild atomically selects the oldest pending build for
// tenantID and transitions it to running, returning it with StartedAt
// populated. Returns ErrNotFound if no pending build exists. Uses
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent schedulers (should
// this process ever run with more than one instance) never double-claim
// the same row.
func (s *Store) ClaimNextPendingBuild(ctx context.Context, tenantID string) (*Build, error) {
	var claimed Build
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM builds
			WHERE tenant_id = $1 AND status = $2
			ORDER BY create_date ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, tenantID, BuildPending)

		var id string
		if err := row.Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("select pending build: %w", err)
		}

		now := time.Now().UTC()
		res := tx.QueryRowContext(ctx, `
			UPDATE builds
			SET status = $1, started_at = $2, write_date = $2
			WHERE id = $3
			RETURNING id, tenant_id, project_id, commit_sha, branch, pr_number,
			          author, message, dedup_fingerprint, trigger_event, status,
			          started_at, finished_at, duration_ms, summary,
			          create_uid, create_date, write_uid, write_date`,
			BuildRunning, now, id)

		return res.Scan(&claimed.ID, &claimed.TenantID, &claimed.ProjectID, &claimed.CommitSHA,
			&claimed.Branch, &claimed.PRNumber, &claimed.Author, &claimed.Message,
			&claimed.DedupFingerprint, &claimed.TriggerEvent, &claimed.Status,
			&claimed.StartedAt, &claimed.FinishedAt, &claimed.DurationMs, &claimed.Summary,
			&claimed.Audit.CreateUID, &claimed.Audit.CreateDate, &claimed.Audit.WriteUID, &claimed.Audit.WriteDate)
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("claim next pending build: %w", err)
	}
	return &claimed, nil
}

// AppendStepRunning inserts the next step for buildID at sequence seq,
// status running.
func (s *Store) AppendStepRunning(ctx context.Context, buildID, name string, seq int) (*Step, error) {
	step := Step{BuildID: buildID, Name: name, Sequence: seq, Status: StepRunning}
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO steps (build_id, name, sequence, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		buildID, name, seq, StepRunning, now)
	if err := row.Scan(&step.ID); err != nil {
		return nil, fmt.Errorf("append step: %w", err)
	}
	step.StartedAt = &now
	return &step, nil
}

// FinalizeStep records the terminal status, exit code, and captured
// output of a step, computing its duration.
func (s *Store) FinalizeStep(ctx context.Context, stepID, status string, exitCode int, stdout, stderr string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps
		SET status = $1, exit_code = $2, stdout = $3, stderr = $4,
		    finished_at = $5,
		    duration_ms = EXTRACT(EPOCH FROM ($5 - started_at)) * 1000
		WHERE id = $6`,
		status, exitCode, stdout, stderr, now, stepID)
	if err != nil {
		return fmt.Errorf("finalize step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeBuild records the terminal status and optional JSON summary
// of a build, computing its duration.
func (s *Store) FinalizeBuild(ctx context.Context, buildID, status string, summary json.RawMessage) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE builds
		SET status = $1, summary = $2,
		    finished_at = $3, write_date = $3,
		    duration_ms = EXTRACT(EPOCH FROM ($3 - started_at)) * 1000
		WHERE id = $4`,
		status, nullableJSON(summary), now, buildID)
	if err != nil {
		return fmt.Errorf("finalize build: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// UpsertErrorAndOccurrence merges a newly-classified failure into the
// tenant's canonical Error table (keyed on fingerprint) and records an
// immutable Occurrence row pointing at the build/step that produced it.
// Both writes happen in one transaction.
func (s *Store) UpsertErrorAndOccurrence(ctx context.Context, tenantID string, projectID *string,
	category, severity, title, raw, normalized, fingerprint, buildID, stepName string) error {

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var errorID string
		row := tx.QueryRowContext(ctx, `SELECT id FROM errors WHERE tenant_id = $1 AND fingerprint = $2`,
			tenantID, fingerprint)
		scanErr := row.Scan(&errorID)

		switch scanErr {
		case sql.ErrNoRows:
			insertRow := tx.QueryRowContext(ctx, `
				INSERT INTO errors (tenant_id, project_id, fingerprint, category, severity,
				                     title, first_seen, last_seen, occurrence_count, status, raw, normalized)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 1, 'open', $8, $9)
				RETURNING id`,
				tenantID, projectID, fingerprint, category, severity, truncateTitle(title), now, raw, normalized)
			if err := insertRow.Scan(&errorID); err != nil {
				return fmt.Errorf("insert error: %w", err)
			}
		case nil:
			if _, err := tx.ExecContext(ctx, `
				UPDATE errors SET last_seen = $1, occurrence_count = occurrence_count + 1
				WHERE id = $2`, now, errorID); err != nil {
				return fmt.Errorf("update error: %w", err)
			}
		default:
			return fmt.Errorf("lookup error by fingerprint: %w", scanErr)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO error_occurrences (error_id, build_id, step_name, raw, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			errorID, buildID, stepName, raw, now); err != nil {
			return fmt.Errorf("insert occurrence: %w", err)
		}
		return nil
	})
}

func truncateTitle(title string) string {
	const maxLen = 200
	if len(title) <= maxLen {
		return title
	}
	return title[:maxLen]
}
