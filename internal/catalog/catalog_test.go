package catalog_test

import (
	"context"
	"testing"

	"area/internal/catalog"
	"area/internal/db"
	"area/internal/migrate"
	"area/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestSyncSeedsBuiltinCatalog(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if err := catalog.Sync(ctx, r, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	services, err := r.ListServices(ctx)
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	if len(services) != 5 {
		t.Fatalf("services = %d, want 5", len(services))
	}

	timer, err := r.GetServiceByName(ctx, "timer")
	if err != nil {
		t.Fatalf("timer service: %v", err)
	}
	actions, err := r.ListActionsByService(ctx, timer.ID)
	if err != nil {
		t.Fatalf("timer actions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("timer actions = %d, want 2", len(actions))
	}

	spotify, err := r.GetServiceByName(ctx, "spotify")
	if err != nil {
		t.Fatalf("spotify service: %v", err)
	}
	polled, err := r.ListActionsByService(ctx, spotify.ID)
	if err != nil {
		t.Fatalf("spotify actions: %v", err)
	}
	for _, a := range polled {
		if !a.IsPolling {
			t.Fatalf("spotify action %q not flagged polling", a.Name)
		}
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if err := catalog.Sync(ctx, r, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	gh, err := r.GetServiceByName(ctx, "github")
	if err != nil {
		t.Fatalf("github service: %v", err)
	}
	before, err := r.ListActionsByService(ctx, gh.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}

	if err := catalog.Sync(ctx, r, "2024-06-01T00:00:00Z"); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	after, err := r.ListActionsByService(ctx, gh.ID)
	if err != nil {
		t.Fatalf("list actions again: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("actions duplicated: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			t.Fatalf("action ids changed across sync")
		}
	}

	services, _ := r.ListServices(ctx)
	if len(services) != 5 {
		t.Fatalf("services = %d after resync, want 5", len(services))
	}
}
