package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/centrixci/centrix-ci/internal/store"
)

type fakeExecutor struct {
	mu    sync.Mutex
	seen  []string
	calls int32
	delay time.Duration
}

func (f *fakeExecutor) Run(ctx context.Context, build *store.Build, project *store.Project) error {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.seen = append(f.seen, build.ID)
	f.mu.Unlock()
	return nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping scheduler integration test")
	}
	st, err := store.Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunOnceRespectsMaxConcurrent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	proj := &store.Project{TenantID: "acme", ForgeRepo: "acme/scheduler-admission", DisplayName: "W", Active: true}
	if err := st.InsertProject(ctx, proj); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	for i := 0; i < 3; i++ {
		b := &store.Build{TenantID: "acme", ProjectID: proj.ID, CommitSHA: "abc1234567890abc1234567890abc1234567890",
			Branch: "main", DedupFingerprint: "sched-fp-" + string(rune('a'+i)), TriggerEvent: "push"}
		if err := st.InsertBuild(ctx, b); err != nil {
			t.Fatalf("InsertBuild: %v", err)
		}
	}

	exec := &fakeExecutor{delay: 200 * time.Millisecond}
	sched := New(st, exec, "acme", 2, nil)
	sched.runOnce(ctx, time.Time{})
	sched.wg.Wait()

	if got := atomic.LoadInt32(&exec.calls); got != 2 {
		t.Fatalf("admitted %d builds on first pass, want 2 (max_concurrent)", got)
	}

	running, err := st.CountRunningBuilds(ctx, "acme")
	if err != nil {
		t.Fatalf("CountRunningBuilds: %v", err)
	}
	if running != 2 {
		t.Fatalf("CountRunningBuilds = %d, want 2", running)
	}
}

func TestRunOnceNoOpOnEmptyQueue(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	exec := &fakeExecutor{}
	sched := New(st, exec, "acme-empty-tenant", 4, nil)
	sched.runOnce(ctx, time.Time{})
	sched.wg.Wait()

	if got := atomic.LoadInt32(&exec.calls); got != 0 {
		t.Fatalf("admitted %d builds with an empty queue, want 0", got)
	}
}
