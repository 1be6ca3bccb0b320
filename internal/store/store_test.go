package store

import (
	"context"
	"os"
	"testing"
	"time"
)

// openTestStore connects to a real Postgres instance named by
// TEST_DATABASE_URL. These are integration tests — they're skipped
// rather than faked, since the store's behavior (FOR UPDATE SKIP
// LOCKED, JSONB, generated UUIDs) is Postgres-specific and a fake would
// just be testing the fake.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping store integration test")
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBuildLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	proj := &Project{
		TenantID:      "acme",
		ForgeRepo:     "acme/widgets",
		DisplayName:   "Widgets",
		DefaultBranch: "main",
		PipelineJSON:  []byte(`{"steps":[{"name":"test","command":"echo ok"}]}`),
		Active:        true,
	}
	row := st.db.QueryRowContext(ctx, `
		INSERT INTO projects (tenant_id, forge_repo, display_name, default_branch, pipeline_config, active)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		proj.TenantID, proj.ForgeRepo, proj.DisplayName, proj.DefaultBranch, proj.PipelineJSON, proj.Active)
	if err := row.Scan(&proj.ID); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	found, err := st.FindProjectByRepo(ctx, "acme", "acme/widgets")
	if err != nil {
		t.Fatalf("FindProjectByRepo: %v", err)
	}
	if found.ID != proj.ID {
		t.Fatalf("FindProjectByRepo returned wrong project")
	}

	b := &Build{
		TenantID:         "acme",
		ProjectID:        proj.ID,
		CommitSHA:        "abc1234567890abc1234567890abc1234567890",
		Branch:           "main",
		DedupFingerprint: "abc1234-main-push",
		TriggerEvent:     "push",
	}
	if err := st.InsertBuild(ctx, b); err != nil {
		t.Fatalf("InsertBuild: %v", err)
	}
	if b.Status != BuildPending {
		t.Fatalf("new build status = %q, want pending", b.Status)
	}

	dup, err := st.IsDuplicate(ctx, "acme", b.DedupFingerprint, 10*time.Second)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatalf("IsDuplicate = false for just-inserted fingerprint")
	}

	claimed, err := st.ClaimNextPendingBuild(ctx, "acme")
	if err != nil {
		t.Fatalf("ClaimNextPendingBuild: %v", err)
	}
	if claimed.ID != b.ID || claimed.Status != BuildRunning {
		t.Fatalf("claimed build = %+v, want id=%s status=running", claimed, b.ID)
	}

	running, err := st.CountRunningBuilds(ctx, "acme")
	if err != nil {
		t.Fatalf("CountRunningBuilds: %v", err)
	}
	if running != 1 {
		t.Fatalf("CountRunningBuilds = %d, want 1", running)
	}

	step, err := st.AppendStepRunning(ctx, b.ID, "test", 1)
	if err != nil {
		t.Fatalf("AppendStepRunning: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := st.FinalizeStep(ctx, step.ID, StepSuccess, 0, "ok\n", ""); err != nil {
		t.Fatalf("FinalizeStep: %v", err)
	}

	if err := st.FinalizeBuild(ctx, b.ID, BuildSuccess, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("FinalizeBuild: %v", err)
	}

	final, err := st.GetBuild(ctx, "acme", b.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if final.Status != BuildSuccess || final.DurationMs == nil {
		t.Fatalf("final build = %+v, want status=success with duration set", final)
	}

	_, err = st.ClaimNextPendingBuild(ctx, "acme")
	if err != ErrNotFound {
		t.Fatalf("ClaimNextPendingBuild on empty queue = %v, want ErrNotFound", err)
	}
}

func TestErrorDedupAcrossBuilds(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var projectID string
	row := st.db.QueryRowContext(ctx, `
		INSERT INTO projects (tenant_id, forge_repo, display_name) VALUES ($1, $2, $3) RETURNING id`,
		"acme", "acme/err-dedup", "Err Dedup")
	if err := row.Scan(&projectID); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	mkBuild := func(fingerprint string) string {
		b := &Build{TenantID: "acme", ProjectID: projectID, CommitSHA: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
			Branch: "main", DedupFingerprint: fingerprint, TriggerEvent: "push"}
		if err := st.InsertBuild(ctx, b); err != nil {
			t.Fatalf("InsertBuild: %v", err)
		}
		return b.ID
	}

	build1 := mkBuild("sha1-main-push")
	build2 := mkBuild("sha2-main-push")

	fingerprint := "compile-err-fp"
	if err := st.UpsertErrorAndOccurrence(ctx, "acme", &projectID, CategoryCompile, "error",
		"undefined reference to N", "raw1", "normalized1", fingerprint, build1, "build"); err != nil {
		t.Fatalf("UpsertErrorAndOccurrence #1: %v", err)
	}
	if err := st.UpsertErrorAndOccurrence(ctx, "acme", &projectID, CategoryCompile, "error",
		"undefined reference to N", "raw2", "normalized1", fingerprint, build2, "build"); err != nil {
		t.Fatalf("UpsertErrorAndOccurrence #2: %v", err)
	}

	var count int
	if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM errors WHERE tenant_id = $1 AND fingerprint = $2`,
		"acme", fingerprint).Scan(&count); err != nil {
		t.Fatalf("count errors: %v", err)
	}
	if count != 1 {
		t.Fatalf("canonical error rows = %d, want 1", count)
	}

	var occCount, occurrenceCount int
	if err := st.db.QueryRowContext(ctx, `SELECT occurrence_count FROM errors WHERE tenant_id = $1 AND fingerprint = $2`,
		"acme", fingerprint).Scan(&occurrenceCount); err != nil {
		t.Fatalf("read occurrence_count: %v", err)
	}
	if occurrenceCount != 2 {
		t.Fatalf("occurrence_count = %d, want 2", occurrenceCount)
	}
	if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM error_occurrences eo
		JOIN errors e ON e.id = eo.error_id WHERE e.fingerprint = $1`, fingerprint).Scan(&occCount); err != nil {
		t.Fatalf("count occurrences: %v", err)
	}
	if occCount != 2 {
		t.Fatalf("error_occurrences rows = %d, want 2", occCount)
	}
}
