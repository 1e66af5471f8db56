package repository

import (
	"context"
	"fmt"
	"sync"

	"persistkit/pkg/domain"
)

// Reference is an unresolved handle to an entity. Creating one never
// touches the store; Resolve performs the existence check on first use.
type Reference[T domain.Entity] struct {
	store domain.EntityStore
	typ   domain.EntityType
	id    string

	mu       sync.Mutex
	entity   T
	resolved bool
}

// ID returns the referenced identity.
func (r *Reference[T]) ID() string { return r.id }

// Resolve loads the referenced entity. A missing row fails with an error
// matching domain.ErrEntityNotFound. Successful loads are cached.
func (r *Reference[T]) Resolve(ctx context.Context) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return r.entity, nil
	}
	var zero T
	e, err := r.store.Find(ctx, r.typ, r.id)
	if err != nil {
		return zero, err
	}
	if e == nil {
		return zero, domain.NotFound(r.typ.Name, r.id)
	}
	v, ok := e.(T)
	if !ok {
		return zero, domain.StoreFailure("load", fmt.Errorf("store returned %T for %s", e, r.typ.Name))
	}
	r.entity = v
	r.resolved = true
	return v, nil
}
