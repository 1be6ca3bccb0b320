package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetBuild returns a single build by ID.
func (s *Store) GetBuild(ctx context.Context, tenantID, buildID string) (*Build, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, project_id, commit_sha, branch, pr_number,
		       author, message, dedup_fingerprint, trigger_event, status,
		       started_at, finished_at, duration_ms, summary,
		       create_uid, create_date, write_uid, write_date
		FROM builds WHERE tenant_id = $1 AND id = $2 AND NOT deleted`, tenantID, buildID)

	var b Build
	err := row.Scan(&b.ID, &b.TenantID, &b.ProjectID, &b.CommitSHA, &b.Branch, &b.PRNumber,
		&b.Author, &b.Message, &b.DedupFingerprint, &b.TriggerEvent, &b.Status,
		&b.StartedAt, &b.FinishedAt, &b.DurationMs, &b.Summary,
		&b.Audit.CreateUID, &b.Audit.CreateDate, &b.Audit.WriteUID, &b.Audit.WriteDate)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get build: %w", err)
	}
	return &b, nil
}

// ListSteps returns every step of a build, ordered by sequence.
func (s *Store) ListSteps(ctx context.Context, buildID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, build_id, name, sequence, status, started_at, finished_at,
		       duration_ms, exit_code, stdout, stderr
		FROM steps WHERE build_id = $1 ORDER BY sequence ASC`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.ID, &st.BuildID, &st.Name, &st.Sequence, &st.Status,
			&st.StartedAt, &st.FinishedAt, &st.DurationMs, &st.ExitCode, &st.Stdout, &st.Stderr); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ListBuilds returns a tenant's builds, newest first by creation time,
// capped at limit.
func (s *Store) ListBuilds(ctx context.Context, tenantID string, limit int) ([]Build, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, project_id, commit_sha, branch, pr_number,
		       author, message, dedup_fingerprint, trigger_event, status,
		       started_at, finished_at, duration_ms, summary,
		       create_uid, create_date, write_uid, write_date
		FROM builds
		WHERE tenant_id = $1 AND NOT deleted
		ORDER BY create_date DESC, id DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()
	return scanBuilds(rows)
}

// LatestBuild returns the newest build for a project/branch pair, or
// ErrNotFound if none exists.
func (s *Store) LatestBuild(ctx context.Context, tenantID, projectID, branch string) (*Build, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, project_id, commit_sha, branch, pr_number,
		       author, message, dedup_fingerprint, trigger_event, status,
		       started_at, finished_at, duration_ms, summary,
		       create_uid, create_date, write_uid, write_date
		FROM builds
		WHERE tenant_id = $1 AND project_id = $2 AND branch = $3 AND NOT deleted
		ORDER BY create_date DESC
		LIMIT 1`, tenantID, projectID, branch)

	var b Build
	err := row.Scan(&b.ID, &b.TenantID, &b.ProjectID, &b.CommitSHA, &b.Branch, &b.PRNumber,
		&b.Author, &b.Message, &b.DedupFingerprint, &b.TriggerEvent, &b.Status,
		&b.StartedAt, &b.FinishedAt, &b.DurationMs, &b.Summary,
		&b.Audit.CreateUID, &b.Audit.CreateDate, &b.Audit.WriteUID, &b.Audit.WriteDate)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest build: %w", err)
	}
	return &b, nil
}

func scanBuilds(rows *sql.Rows) ([]Build, error) {
	var builds []Build
	for rows.Next() {
		var b Build
		if err := rows.Scan(&b.ID, &b.TenantID, &b.ProjectID, &b.CommitSHA, &b.Branch, &b.PRNumber,
			&b.Author, &b.Message, &b.DedupFingerprint, &b.TriggerEvent, &b.Status,
			&b.StartedAt, &b.FinishedAt, &b.DurationMs, &b.Summary,
			&b.Audit.CreateUID, &b.Audit.CreateDate, &b.Audit.WriteUID, &b.Audit.WriteDate); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// GetProject returns a single project by ID.
func (s *Store) GetProject(ctx context.Context, tenantID, projectID string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, forge_repo, display_name, default_branch,
		       pipeline_config, local_path, active,
		       create_uid, create_date, write_uid, write_date
		FROM projects WHERE tenant_id = $1 AND id = $2 AND NOT deleted`, tenantID, projectID)

	var p Project
	err := row.Scan(&p.ID, &p.TenantID, &p.ForgeRepo, &p.DisplayName, &p.DefaultBranch,
		&p.PipelineJSON, &p.LocalPath, &p.Active,
		&p.Audit.CreateUID, &p.Audit.CreateDate, &p.Audit.WriteUID, &p.Audit.WriteDate)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// InsertProject creates a new project and populates its ID and audit timestamps.
func (s *Store) InsertProject(ctx context.Context, p *Project) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (tenant_id, forge_repo, display_name, default_branch,
		                       pipeline_config, local_path, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, create_date, write_date`,
		p.TenantID, p.ForgeRepo, p.DisplayName, p.DefaultBranch,
		defaultString(string(p.PipelineJSON), "{}"), p.LocalPath, p.Active)
	if err := row.Scan(&p.ID, &p.Audit.CreateDate, &p.Audit.WriteDate); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ListProjects returns every active project for a tenant.
func (s *Store) ListProjects(ctx context.Context, tenantID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, forge_repo, display_name, default_branch,
		       pipeline_config, local_path, active,
		       create_uid, create_date, write_uid, write_date
		FROM projects WHERE tenant_id = $1 AND active AND NOT deleted ORDER BY display_name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.TenantID, &p.ForgeRepo, &p.DisplayName, &p.DefaultBranch,
			&p.PipelineJSON, &p.LocalPath, &p.Active,
			&p.Audit.CreateUID, &p.Audit.CreateDate, &p.Audit.WriteUID, &p.Audit.WriteDate); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SuccessRateKPI reports the success rate of terminal builds created in
// the last days days: total and success count terminal builds only
// ({success, failure}), rate = success / max(total, 1).
func (s *Store) SuccessRateKPI(ctx context.Context, tenantID string, days int) (total, success int64, rate float64, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM builds
		WHERE tenant_id = $1 AND NOT deleted AND status IN ($2, $3)
		  AND create_date > now() - ($4 || ' days')::interval
		GROUP BY status`, tenantID, BuildSuccess, BuildFailure, days)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("success rate: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, fmt.Errorf("scan status count: %w", err)
		}
		total += n
		if status == BuildSuccess {
			success = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, 0, err
	}
	denom := total
	if denom < 1 {
		denom = 1
	}
	return total, success, float64(success) / float64(denom), nil
}

// AvgDurationKPI reports the mean duration_ms and count of builds with
// a recorded duration. avgMs is nil when count is zero.
func (s *Store) AvgDurationKPI(ctx context.Context, tenantID string, days int) (avgMs *float64, count int64, err error) {
	var avg sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `
		SELECT AVG(duration_ms), COUNT(*) FROM builds
		WHERE tenant_id = $1 AND NOT deleted AND duration_ms IS NOT NULL
		  AND create_date > now() - ($2 || ' days')::interval`, tenantID, days)
	if err := row.Scan(&avg, &count); err != nil {
		return nil, 0, fmt.Errorf("avg duration: %w", err)
	}
	if avg.Valid {
		v := avg.Float64
		avgMs = &v
	}
	return avgMs, count, nil
}

// EnvUtilizationKPI reports environment counts by lifecycle state;
// total excludes destroyed environments.
func (s *Store) EnvUtilizationKPI(ctx context.Context, tenantID string) (total, running, dormant, creating int64, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM environments
		WHERE tenant_id = $1 AND status != $2
		GROUP BY status`, tenantID, EnvDestroyed)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("env utilization: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, 0, fmt.Errorf("scan env status count: %w", err)
		}
		total += n
		switch status {
		case EnvRunning:
			running = n
		case EnvDormant:
			dormant = n
		case EnvCreating:
			creating = n
		}
	}
	return total, running, dormant, creating, rows.Err()
}

// StatusCount is one entry of a builds-by-status breakdown.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// BuildsByStatusKPI reports build counts by status over the last days
// days, sorted count-descending.
func (s *Store) BuildsByStatusKPI(ctx context.Context, tenantID string, days int) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM builds
		WHERE tenant_id = $1 AND NOT deleted
		  AND create_date > now() - ($2 || ' days')::interval
		GROUP BY status
		ORDER BY COUNT(*) DESC`, tenantID, days)
	if err != nil {
		return nil, fmt.Errorf("builds by status: %w", err)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts = append(counts, sc)
	}
	return counts, rows.Err()
}

// InsertEnvironment creates a new ephemeral review environment in the
// requested state.
func (s *Store) InsertEnvironment(ctx context.Context, e *Environment) error {
	e.Status = EnvRequested
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO environments (tenant_id, project_id, pr_number, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, last_activity_at`,
		e.TenantID, e.ProjectID, e.PRNumber, e.Status)
	return row.Scan(&e.ID, &e.CreatedAt, &e.LastActivityAt)
}

// ListEnvironmentsByStatus returns every environment for a tenant in a given state.
func (s *Store) ListEnvironmentsByStatus(ctx context.Context, tenantID, status string) ([]Environment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, project_id, pr_number, status, created_at, last_activity_at, destroyed_at
		FROM environments WHERE tenant_id = $1 AND status = $2`, tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	var envs []Environment
	for rows.Next() {
		var e Environment
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ProjectID, &e.PRNumber, &e.Status,
			&e.CreatedAt, &e.LastActivityAt, &e.DestroyedAt); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}

// TransitionEnvironment moves an environment to a new status.
func (s *Store) TransitionEnvironment(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE environments SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("transition environment: %w", err)
	}
	return nil
}
