package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"persistkit/internal/testmodel"
	"persistkit/pkg/domain"
)

var beverageType = domain.MustTypeOf[*testmodel.Beverage]()

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), path, Options{})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return store
}

func countRows(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store := openStore(t, path)
	if err := store.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	coffee := testmodel.NewBeverage("Coffee")
	if err := store.Persist(ctx, coffee); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded := openStore(t, path)
	t.Cleanup(func() { _ = reloaded.Close() })
	got, err := reloaded.Find(ctx, beverageType, coffee.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.(*testmodel.Beverage).Name != "Coffee" {
		t.Fatalf("expected reloaded coffee, got %#v", got)
	}
}

func TestSQLiteStoreWritesDeltaOnly(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	t.Cleanup(func() { _ = store.Close() })

	_ = store.Begin(ctx)
	beer := testmodel.NewBeverage("Beer", true)
	tea := testmodel.NewBeverage("Tea")
	_ = store.Persist(ctx, beer)
	_ = store.Persist(ctx, tea)
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n := countRows(t, store); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}

	_ = store.Begin(ctx)
	if err := store.Remove(ctx, tea); err != nil {
		t.Fatalf("remove: %v", err)
	}
	beer.Name = "Detached"
	managed, err := store.Find(ctx, beverageType, beer.ID)
	if err != nil || managed == nil {
		t.Fatalf("find: %v %v", managed, err)
	}
	managed.(*testmodel.Beverage).Name = "Lager"
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n := countRows(t, store); n != 1 {
		t.Fatalf("expected 1 row after delete, got %d", n)
	}
	var payload string
	if err := store.DB().QueryRow(`SELECT payload FROM entities WHERE kind = ? AND id = ?`, "Beverage", beer.ID).Scan(&payload); err != nil {
		t.Fatalf("select payload: %v", err)
	}
	if payload != `{"id":"`+beer.ID+`","name":"Lager","alcoholic":true}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestSQLiteStoreRollbackLeavesDatabaseUntouched(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	t.Cleanup(func() { _ = store.Close() })
	_ = store.Begin(ctx)
	_ = store.Persist(ctx, testmodel.NewBeverage("Absinthe", true))
	if err := store.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if n := countRows(t, store); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
}

func TestSQLiteStoreCommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	_ = store.Begin(ctx)
	_ = store.Persist(ctx, testmodel.NewBeverage("Mead", true))
	_ = store.DB().Close()
	if err := store.Commit(ctx); err == nil {
		t.Fatalf("expected commit to fail on a closed database")
	}
	if store.InTransaction() {
		t.Fatalf("failed commit must end the transaction")
	}
	if n, err := store.Count(ctx, beverageType); err != nil || n != 0 {
		t.Fatalf("failed commit must not publish rows: %d %v", n, err)
	}
}

func TestSQLiteStoreDefaultsPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	store := openStore(t, "")
	t.Cleanup(func() { _ = store.Close() })
	if store.Path() != defaultPath {
		t.Fatalf("expected default path, got %s", store.Path())
	}
}
