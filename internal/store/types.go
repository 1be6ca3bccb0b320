package store

import (
	"encoding/json"
	"time"
)

// Build status values. A build moves pending -> running -> one of
// {success, failure, cancelled}; each transition happens exactly once.
const (
	BuildPending   = "pending"
	BuildRunning   = "running"
	BuildSuccess   = "success"
	BuildFailure   = "failure"
	BuildCancelled = "cancelled"
)

// Step status values.
const (
	StepRunning = "running"
	StepSuccess = "success"
	StepFailure = "failure"
)

// Error categories, checked in this priority order by the classifier.
const (
	CategoryCompile = "compile"
	CategoryTest    = "test"
	CategoryLint    = "lint"
	CategoryTimeout = "timeout"
	CategoryRuntime = "runtime"
)

// Environment status values.
const (
	EnvRequested = "requested"
	EnvCreating  = "creating"
	EnvRunning   = "running"
	EnvDormant   = "dormant"
	EnvDestroyed = "destroyed"
)

// Audit carries the create/write bookkeeping columns every entity has.
type Audit struct {
	CreateUID  string    `json:"create_uid"`
	CreateDate time.Time `json:"create_date"`
	WriteUID   string    `json:"write_uid"`
	WriteDate  time.Time `json:"write_date"`
	Deleted    bool      `json:"-"`
}

// Project is a repository configured to build in centrix-ci.
type Project struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	ForgeRepo     string          `json:"forge_repo"` // "owner/name"
	DisplayName   string          `json:"display_name"`
	DefaultBranch string          `json:"default_branch"`
	PipelineJSON  json.RawMessage `json:"pipeline_config"`
	LocalPath     string          `json:"local_path,omitempty"`
	Active        bool            `json:"active"`
	Audit
}

// Trigger is an advisory build filter. Populated but not consulted by
// the admission path in this version — see DESIGN.md.
type Trigger struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	ProjectID  string `json:"project_id"`
	BranchGlob string `json:"branch_glob"`
	Enabled    bool   `json:"enabled"`
	Audit
}

// MatchesTrigger reports whether branch satisfies t's glob. Not wired
// into admission; ready for the filtering the original design deferred.
func (t Trigger) MatchesTrigger(branch string) bool {
	if t.BranchGlob == "" {
		return true
	}
	ok, err := matchGlob(t.BranchGlob, branch)
	return err == nil && ok
}

// Build is one run of a project's pipeline against a specific commit.
type Build struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	ProjectID        string          `json:"project_id"`
	CommitSHA        string          `json:"commit_sha"`
	Branch           string          `json:"branch"`
	PRNumber         *int            `json:"pr_number,omitempty"`
	Author           string          `json:"author"`
	Message          string          `json:"message"`
	DedupFingerprint string          `json:"dedup_fingerprint"`
	TriggerEvent     string          `json:"trigger_event"`
	Status           string          `json:"status"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
	DurationMs       *int64          `json:"duration_ms,omitempty"`
	Summary          json.RawMessage `json:"summary,omitempty"`
	Audit
}

// Step is one pipeline step belonging to a Build.
type Step struct {
	ID         string     `json:"id"`
	BuildID    string     `json:"build_id"`
	Name       string     `json:"name"`
	Sequence   int        `json:"sequence"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Stdout     string     `json:"stdout"`
	Stderr     string     `json:"stderr"`
}

// Error is a canonical, deduplicated failure signature for a tenant.
type Error struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ProjectID       *string   `json:"project_id,omitempty"`
	Fingerprint     string    `json:"fingerprint"`
	Category        string    `json:"category"`
	Severity        string    `json:"severity"`
	Title           string    `json:"title"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	OccurrenceCount int       `json:"occurrence_count"`
	Status          string    `json:"status"`
	Raw             string    `json:"raw"`
	Normalized      string    `json:"normalized"`
}

// ErrorOccurrence links a canonical Error to the specific build/step
// that produced it. Immutable once inserted.
type ErrorOccurrence struct {
	ID        string    `json:"id"`
	ErrorID   string    `json:"error_id"`
	BuildID   string    `json:"build_id"`
	StepName  string    `json:"step_name"`
	Raw       string    `json:"raw"`
	CreatedAt time.Time `json:"created_at"`
}

// Environment is an ephemeral per-PR review environment.
type Environment struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	ProjectID      string     `json:"project_id"`
	PRNumber       int        `json:"pr_number"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	DestroyedAt    *time.Time `json:"destroyed_at,omitempty"`
}

// Artifact is a small, immutable, inline build output blob.
type Artifact struct {
	ID        string    `json:"id"`
	BuildID   string    `json:"build_id"`
	Name      string    `json:"name"`
	Content   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
