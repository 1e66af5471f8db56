// Package core holds the per-environment registry of persistence managers,
// the managers themselves and the shutdown listener that tears them down.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"persistkit/internal/config"
	"persistkit/pkg/domain"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Factory opens the entity store of an environment. It may be expensive;
// the registry calls it at most once per environment between clears.
type Factory func(ctx context.Context, env string) (domain.EntityStore, error)

// Option configures a Registry.
type Option func(*Registry)

// WithFactory replaces the default store factory.
func WithFactory(f Factory) Option {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// WithLogger sets the logger handed to managers and stores.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithMetrics records registry and transaction metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry caches one PersistenceManager per environment name. Lookups of
// a cached manager take no lock; creation is serialised so each name gets
// exactly one manager until Clear.
type Registry struct {
	managers sync.Map // env -> *PersistenceManager
	mu       sync.Mutex
	factory  Factory
	log      zerolog.Logger
	metrics  *Metrics
}

// NewRegistry constructs a registry. Without WithFactory, stores are opened
// from the persistence unit config.Load resolves at creation time.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{log: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.factory == nil {
		r.factory = r.configFactory
	}
	return r
}

func (r *Registry) configFactory(ctx context.Context, env string) (domain.EntityStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return OpenEntityStore(ctx, cfg.Unit(env), r.log)
}

// Get returns the manager for env, creating it on first access. A factory
// failure is returned as *domain.ConfigurationError and nothing is cached.
func (r *Registry) Get(ctx context.Context, env string) (*PersistenceManager, error) {
	if pm, ok := r.managers.Load(env); ok {
		return pm.(*PersistenceManager), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if pm, ok := r.managers.Load(env); ok {
		return pm.(*PersistenceManager), nil
	}
	store, err := r.factory(ctx, env)
	if err != nil {
		r.log.Error().Err(err).Str("environment", env).Msg("persistence manager creation failed")
		return nil, &domain.ConfigurationError{Environment: env, Err: err}
	}
	if store == nil {
		return nil, &domain.ConfigurationError{Environment: env, Err: errors.New("factory returned no store")}
	}
	pm := NewPersistenceManager(env, store, r.log, r.metrics)
	r.managers.Store(env, pm)
	r.metrics.managerCreated(env)
	r.log.Info().Str("environment", env).Msg("persistence manager created")
	return pm, nil
}

// Clear closes every cached manager and empties the registry. All managers
// are closed before Clear returns; their close errors are joined. Clearing
// an empty registry is a no-op.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var managers []*PersistenceManager
	r.managers.Range(func(k, v any) bool {
		managers = append(managers, v.(*PersistenceManager))
		r.managers.Delete(k)
		return true
	})
	if len(managers) == 0 {
		return nil
	}
	errs := make([]error, len(managers))
	var g errgroup.Group
	for i, pm := range managers {
		g.Go(func() error {
			if err := pm.close(); err != nil {
				errs[i] = fmt.Errorf("close %s: %w", pm.env, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	r.metrics.managersClosed(len(managers))
	err := errors.Join(errs...)
	r.log.Info().Int("managers", len(managers)).AnErr("error", err).Msg("registry cleared")
	return err
}

// Environments lists the environments with a cached manager, sorted.
func (r *Registry) Environments() []string {
	var out []string
	r.managers.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}
