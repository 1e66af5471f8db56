package testutil

import (
	"context"
	"testing"

	"persistkit/internal/core"
)

// SetupPersistenceManager returns the manager for env from a fresh
// memory-backed registry. The registry is cleared when the test ends.
func SetupPersistenceManager(t testing.TB, env string) *core.PersistenceManager {
	t.Helper()
	reg := core.NewRegistry(core.WithFactory(core.MemoryFactory()))
	pm, err := reg.Get(context.Background(), env)
	if err != nil {
		t.Fatalf("persistence manager %s: %v", env, err)
	}
	t.Cleanup(func() {
		if err := reg.Clear(); err != nil {
			t.Errorf("clear registry: %v", err)
		}
	})
	return pm
}

// SetupTransaction begins a transaction on pm and rolls it back when the
// test ends, so nothing a test writes outlives it. A transaction already
// finished by the test is left alone.
func SetupTransaction(t testing.TB, pm *core.PersistenceManager) {
	t.Helper()
	ctx := context.Background()
	if err := pm.Begin(ctx); err != nil {
		t.Fatalf("begin transaction: %v", err)
	}
	t.Cleanup(func() {
		if !pm.InTransaction() {
			return
		}
		if err := pm.Rollback(ctx); err != nil {
			t.Errorf("rollback transaction: %v", err)
		}
	})
}
