package envreaper

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/centrixci/centrix-ci/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping envreaper integration test")
	}
	st, err := store.Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunOnceMovesIdleRunningToDormant(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	proj := &store.Project{TenantID: "acme", ForgeRepo: "acme/envreaper-test", DisplayName: "W", Active: true}
	if err := st.InsertProject(ctx, proj); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	running := &store.Environment{TenantID: "acme", ProjectID: proj.ID, PRNumber: 1}
	if err := st.InsertEnvironment(ctx, running); err != nil {
		t.Fatalf("seed running env: %v", err)
	}
	if err := st.TransitionEnvironment(ctx, running.ID, store.EnvRunning); err != nil {
		t.Fatalf("transition to running: %v", err)
	}

	r := New(st, "acme", 30*time.Minute, 7*24*time.Hour, nil)
	farFuture := time.Now().Add(31 * time.Minute)
	r.runOnce(ctx, farFuture)

	envs, err := st.ListEnvironmentsByStatus(ctx, "acme", store.EnvDormant)
	if err != nil {
		t.Fatalf("ListEnvironmentsByStatus: %v", err)
	}
	found := false
	for _, e := range envs {
		if e.ID == running.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("environment %s was not moved to dormant", running.ID)
	}
}
