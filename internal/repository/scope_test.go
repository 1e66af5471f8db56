package repository

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"persistkit/internal/core"
	"persistkit/internal/testmodel"
	"persistkit/testutil"

	"github.com/rs/zerolog"
)

type recordingTx struct {
	calls       []string
	beginErr    error
	commitErr   error
	rollbackErr error
	endPanic    any
}

func (r *recordingTx) Begin(context.Context) error {
	r.calls = append(r.calls, "begin")
	return r.beginErr
}

func (r *recordingTx) Commit(context.Context) error {
	r.calls = append(r.calls, "commit")
	if r.endPanic != nil {
		panic(r.endPanic)
	}
	return r.commitErr
}

func (r *recordingTx) Rollback(context.Context) error {
	r.calls = append(r.calls, "rollback")
	if r.endPanic != nil {
		panic(r.endPanic)
	}
	return r.rollbackErr
}

func (r *recordingTx) trace() string { return strings.Join(r.calls, ",") }

func TestScopeOutcomes(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name  string
		mode  Mode
		fnErr error
		want  string
	}{
		{"commit mode success", ModeCommit, nil, "begin,commit"},
		{"commit mode failure", ModeCommit, boom, "begin,rollback"},
		{"rollback mode success", ModeRollback, nil, "begin,rollback"},
		{"rollback mode failure", ModeRollback, boom, "begin,rollback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := &recordingTx{}
			err := NewScope(tx, tc.mode).Run(context.Background(), func(context.Context) error { return tc.fnErr })
			if err != tc.fnErr {
				t.Fatalf("expected %v unchanged, got %v", tc.fnErr, err)
			}
			if got := tx.trace(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestScopeRollbackFailureDoesNotMaskError(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	original := errors.New("unit of work failed")
	tx := &recordingTx{rollbackErr: errors.New("connection lost")}
	err := Commit(tx).Run(ctx, func(context.Context) error { return original })
	if err != original {
		t.Fatalf("expected original error, got %v", err)
	}
	if !strings.Contains(buf.String(), "connection lost") {
		t.Fatalf("expected rollback failure to be logged, got %q", buf.String())
	}
}

func TestScopeBeginFailureSkipsWork(t *testing.T) {
	beginErr := errors.New("already active")
	tx := &recordingTx{beginErr: beginErr}
	called := false
	err := Commit(tx).Run(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != beginErr || called {
		t.Fatalf("expected begin error without running work, got %v called=%v", err, called)
	}
	if tx.trace() != "begin" {
		t.Fatalf("unexpected calls %s", tx.trace())
	}
}

func TestScopeCommitFailureIsReturned(t *testing.T) {
	commitErr := errors.New("disk full")
	tx := &recordingTx{commitErr: commitErr}
	if err := Commit(tx).Run(context.Background(), func(context.Context) error { return nil }); err != commitErr {
		t.Fatalf("expected commit error, got %v", err)
	}
	if tx.trace() != "begin,commit" {
		t.Fatalf("unexpected calls %s", tx.trace())
	}
}

func TestScopePanicRollsBackAndRepanics(t *testing.T) {
	for _, mode := range []Mode{ModeCommit, ModeRollback} {
		t.Run(mode.String(), func(t *testing.T) {
			tx := &recordingTx{}
			defer func() {
				r := recover()
				if r != "kaboom" {
					t.Fatalf("expected original panic value, got %v", r)
				}
				if tx.trace() != "begin,rollback" {
					t.Fatalf("unexpected calls %s", tx.trace())
				}
			}()
			_ = NewScope(tx, mode).Run(context.Background(), func(context.Context) error { panic("kaboom") })
			t.Fatalf("panic was swallowed")
		})
	}
}

func TestScopePanicWhileEndingIsNotRolledBackAgain(t *testing.T) {
	for _, tc := range []struct {
		mode Mode
		want string
	}{
		{ModeCommit, "begin,commit"},
		{ModeRollback, "begin,rollback"},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			tx := &recordingTx{endPanic: "driver crashed"}
			defer func() {
				if r := recover(); r != "driver crashed" {
					t.Fatalf("expected original panic value, got %v", r)
				}
				if tx.trace() != tc.want {
					t.Fatalf("unexpected calls %s", tx.trace())
				}
			}()
			_ = NewScope(tx, tc.mode).Run(context.Background(), func(context.Context) error { return nil })
			t.Fatalf("panic was swallowed")
		})
	}
}

func TestRollbackScopeLeavesNoTrace(t *testing.T) {
	for _, sc := range storeCases {
		t.Run(sc.name, func(t *testing.T) {
			pm := sc.setup(t)
			tpl := MustTemplate[*testmodel.Beverage](pm)
			ctx := context.Background()
			coffee := testmodel.NewBeverage("Coffee")
			err := Rollback(pm).Run(ctx, func(ctx context.Context) error {
				if err := tpl.Persist(ctx, coffee); err != nil {
					return err
				}
				if n, err := tpl.Count(ctx); err != nil || n != 1 {
					t.Fatalf("persisted entity must be visible inside the scope: %d %v", n, err)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if pm.InTransaction() {
				t.Fatalf("scope must end the transaction")
			}
			err = Rollback(pm).Run(ctx, func(ctx context.Context) error {
				got, err := tpl.Get(ctx, coffee.ID)
				if err != nil {
					return err
				}
				if got != nil {
					t.Fatalf("test-mode scope leaked %+v", got)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("second run: %v", err)
			}
		})
	}
}

func TestCommitScopePublishesAndFailureDiscards(t *testing.T) {
	pm := testutil.SetupPersistenceManager(t, "test")
	tpl := MustTemplate[*testmodel.Beverage](pm)
	ctx := context.Background()
	if err := Commit(pm).Run(ctx, func(ctx context.Context) error {
		return tpl.Persist(ctx, &testmodel.Beverage{ID: "kept", Name: "Coffee"})
	}); err != nil {
		t.Fatalf("commit run: %v", err)
	}
	failure := errors.New("abort")
	err := Commit(pm).Run(ctx, func(ctx context.Context) error {
		if err := tpl.Persist(ctx, &testmodel.Beverage{ID: "lost", Name: "Beer"}); err != nil {
			return err
		}
		return failure
	})
	if err != failure {
		t.Fatalf("expected original failure, got %v", err)
	}
	if kept, _ := tpl.Get(ctx, "kept"); kept == nil {
		t.Fatalf("committed entity missing")
	}
	if lost, _ := tpl.Get(ctx, "lost"); lost != nil {
		t.Fatalf("failed scope leaked %+v", lost)
	}
}

func TestSetupTransactionRollsBackOnCleanup(t *testing.T) {
	pm := testutil.SetupPersistenceManager(t, "test")
	tpl := MustTemplate[*testmodel.Beverage](pm)
	t.Run("writes", func(t *testing.T) {
		testutil.SetupTransaction(t, pm)
		if err := tpl.Persist(context.Background(), testmodel.NewBeverage("Coffee")); err != nil {
			t.Fatalf("persist: %v", err)
		}
	})
	if pm.InTransaction() {
		t.Fatalf("cleanup must end the transaction")
	}
	if n, _ := tpl.Count(context.Background()); n != 0 {
		t.Fatalf("expected rollback on cleanup, count=%d", n)
	}
}

var _ Transactor = (*core.PersistenceManager)(nil)
var _ StoreProvider = (*core.PersistenceManager)(nil)
