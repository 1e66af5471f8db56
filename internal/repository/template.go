// Package repository provides typed access to the entity store of a
// persistence manager: Template[T] for CRUD and queries, Reference[T] for
// deferred loads and Scope for transaction bracketing.
package repository

import (
	"context"
	"fmt"

	"persistkit/pkg/domain"
)

// StoreProvider exposes the entity store a Template delegates to.
// *core.PersistenceManager satisfies it.
type StoreProvider interface {
	Store() domain.EntityStore
}

// Template gives typed access to the entities of type T. It holds no state
// beyond the manager and type token, so one Template may be reused across
// transactions. Writes require an active transaction.
type Template[T domain.Entity] struct {
	provider StoreProvider
	typ      domain.EntityType
}

// NewTemplate builds a template for T over provider.
func NewTemplate[T domain.Entity](provider StoreProvider) (*Template[T], error) {
	if provider == nil {
		return nil, fmt.Errorf("repository: nil store provider")
	}
	typ, err := domain.TypeOf[T]()
	if err != nil {
		return nil, err
	}
	return &Template[T]{provider: provider, typ: typ}, nil
}

// MustTemplate is NewTemplate that panics on error.
func MustTemplate[T domain.Entity](provider StoreProvider) *Template[T] {
	t, err := NewTemplate[T](provider)
	if err != nil {
		panic(err)
	}
	return t
}

// Type returns the entity type token of T.
func (t *Template[T]) Type() domain.EntityType { return t.typ }

func (t *Template[T]) store() domain.EntityStore { return t.provider.Store() }

// Count returns the number of persisted instances of T.
func (t *Template[T]) Count(ctx context.Context) (int64, error) {
	return t.store().Count(ctx, t.typ)
}

// Get loads the entity with id. An absent row yields the zero T and a nil
// error.
func (t *Template[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	e, err := t.store().Find(ctx, t.typ, id)
	if err != nil || e == nil {
		return zero, err
	}
	return t.cast(e)
}

// GetReference returns an unresolved handle to the entity with id. The store
// is not consulted until Resolve.
func (t *Template[T]) GetReference(id string) *Reference[T] {
	return &Reference[T]{store: t.store(), typ: t.typ, id: id}
}

// Contains reports whether entity is the instance currently managed for its
// identity. It does not check the database.
func (t *Template[T]) Contains(entity T) bool {
	if domain.IsNil(entity) {
		return false
	}
	return t.store().Contains(entity)
}

// Persist makes entity managed; its row is inserted on the next flush. A
// duplicate identity fails with domain.ErrEntityExists.
func (t *Template[T]) Persist(ctx context.Context, entity T) error {
	return t.store().Persist(ctx, entity)
}

// Merge copies the state of entity onto the managed instance with the same
// identity and returns that instance. entity itself is left untouched.
func (t *Template[T]) Merge(ctx context.Context, entity T) (T, error) {
	var zero T
	e, err := t.store().Merge(ctx, entity)
	if err != nil {
		return zero, err
	}
	return t.cast(e)
}

// Remove schedules entity for deletion. Removing an entity that does not
// exist is a no-op.
func (t *Template[T]) Remove(ctx context.Context, entity T) error {
	return t.store().Remove(ctx, entity)
}

// Refresh reloads the managed entity, discarding unflushed changes.
func (t *Template[T]) Refresh(ctx context.Context, entity T) error {
	return t.store().Refresh(ctx, entity)
}

// Flush writes pending changes without ending the transaction.
func (t *Template[T]) Flush(ctx context.Context) error {
	return t.store().Flush(ctx)
}

// Query runs query with positional arguments bound to ? or ?N in order.
func (t *Template[T]) Query(ctx context.Context, query string, args ...any) ([]T, error) {
	return t.collect(t.store().Query(ctx, t.typ, query, domain.Positional(args...)))
}

// QueryNamed runs query with :name parameters bound from params.
func (t *Template[T]) QueryNamed(ctx context.Context, query string, params map[string]any) ([]T, error) {
	return t.collect(t.store().Query(ctx, t.typ, query, domain.Named(params)))
}

// NamedQuery runs the query T registers under name with positional arguments.
func (t *Template[T]) NamedQuery(ctx context.Context, name string, args ...any) ([]T, error) {
	return t.collect(t.store().NamedQuery(ctx, t.typ, name, domain.Positional(args...)))
}

// NamedQueryParams runs the query T registers under name with named parameters.
func (t *Template[T]) NamedQueryParams(ctx context.Context, name string, params map[string]any) ([]T, error) {
	return t.collect(t.store().NamedQuery(ctx, t.typ, name, domain.Named(params)))
}

func (t *Template[T]) collect(found []domain.Entity, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(found))
	for _, e := range found {
		v, err := t.cast(e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *Template[T]) cast(e domain.Entity) (T, error) {
	v, ok := e.(T)
	if !ok {
		var zero T
		return zero, domain.StoreFailure("load", fmt.Errorf("store returned %T for %s", e, t.typ.Name))
	}
	return v, nil
}
