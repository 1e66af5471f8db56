package core

import (
	"context"

	"persistkit/pkg/domain"

	"github.com/rs/zerolog"
)

// PersistenceManager owns the entity store of one environment. It is not
// safe for concurrent units of work; each caller brackets its work with a
// single transaction.
type PersistenceManager struct {
	env     string
	store   domain.EntityStore
	log     zerolog.Logger
	metrics *Metrics
}

// NewPersistenceManager wraps an already opened store. Managers obtained
// from a Registry are built by it; this constructor serves callers that
// manage the store lifetime themselves.
func NewPersistenceManager(env string, store domain.EntityStore, logger zerolog.Logger, metrics *Metrics) *PersistenceManager {
	return &PersistenceManager{
		env:     env,
		store:   store,
		log:     logger.With().Str("environment", env).Logger(),
		metrics: metrics,
	}
}

// Environment returns the environment name the manager was created for.
func (pm *PersistenceManager) Environment() string { return pm.env }

// Store returns the entity store handle used by templates.
func (pm *PersistenceManager) Store() domain.EntityStore { return pm.store }

// Begin starts a transaction.
func (pm *PersistenceManager) Begin(ctx context.Context) error {
	if err := pm.store.Begin(ctx); err != nil {
		return err
	}
	pm.log.Debug().Msg("begin")
	return nil
}

// Commit ends the active transaction, publishing its changes. Calling
// Rollback after Commit is a caller error.
func (pm *PersistenceManager) Commit(ctx context.Context) error {
	if err := pm.store.Commit(ctx); err != nil {
		pm.metrics.transaction(pm.env, OutcomeCommitFailed)
		pm.log.Warn().Err(err).Msg("commit failed")
		return err
	}
	pm.metrics.transaction(pm.env, OutcomeCommitted)
	pm.log.Debug().Msg("commit")
	return nil
}

// Rollback discards the active transaction.
func (pm *PersistenceManager) Rollback(ctx context.Context) error {
	if err := pm.store.Rollback(ctx); err != nil {
		return err
	}
	pm.metrics.transaction(pm.env, OutcomeRolledBack)
	pm.log.Debug().Msg("rollback")
	return nil
}

// InTransaction reports whether a transaction is active.
func (pm *PersistenceManager) InTransaction() bool { return pm.store.InTransaction() }

func (pm *PersistenceManager) close() error {
	return pm.store.Close()
}
