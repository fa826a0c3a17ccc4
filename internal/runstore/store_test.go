package runstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run, err := store.Create(ctx, "signs", "abc123")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run id should not be empty")
	}
	if run.Completed() {
		t.Error("new run should not be completed")
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != "signs" || got.ConfigDigest != "abc123" {
		t.Errorf("got run %+v, want kind=signs digest=abc123", got)
	}
	if got.StartedAt.IsZero() {
		t.Error("started_at should round-trip")
	}
}

func TestComplete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run, err := store.Create(ctx, "weather", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	err = store.Complete(ctx, run.ID, 50, 0.84, 0.82, "/tmp/weather.json")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Completed() {
		t.Fatal("run should be completed")
	}
	if got.Epochs != 50 {
		t.Errorf("epochs = %d, want 50", got.Epochs)
	}
	if got.BestValAccuracy != 0.84 || got.TestAccuracy != 0.82 {
		t.Errorf("accuracies = %v/%v, want 0.84/0.82", got.BestValAccuracy, got.TestAccuracy)
	}
	if got.Checkpoint != "/tmp/weather.json" {
		t.Errorf("checkpoint = %q", got.Checkpoint)
	}
}

func TestCompleteUnknownRun(t *testing.T) {
	store := openTestStore(t)

	err := store.Complete(context.Background(), "no-such-id", 1, 0, 0, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetUnknownRun(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "signs", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "weather", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	signs, err := store.List(ctx, "signs")
	if err != nil {
		t.Fatalf("List signs: %v", err)
	}
	if len(signs) != 1 || signs[0].ID != first.ID {
		t.Errorf("signs filter returned %d runs", len(signs))
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run, err := store.Create(context.Background(), "signs", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(context.Background(), run.ID); err != nil {
		t.Errorf("run should survive reopen: %v", err)
	}
}
