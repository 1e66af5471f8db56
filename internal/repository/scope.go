package repository

import (
	"context"

	"github.com/rs/zerolog"
)

// Transactor is the transaction surface of a persistence manager.
type Transactor interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Mode selects what a Scope does when its unit of work succeeds.
type Mode int

const (
	// ModeCommit commits on success.
	ModeCommit Mode = iota
	// ModeRollback always rolls back so nothing outlives the scope.
	ModeRollback
)

func (m Mode) String() string {
	if m == ModeRollback {
		return "rollback"
	}
	return "commit"
}

// Scope brackets a unit of work with exactly one commit or rollback.
type Scope struct {
	tx   Transactor
	mode Mode
}

// NewScope returns a scope over tx.
func NewScope(tx Transactor, mode Mode) *Scope {
	return &Scope{tx: tx, mode: mode}
}

// Commit returns a production scope over tx.
func Commit(tx Transactor) *Scope { return NewScope(tx, ModeCommit) }

// Rollback returns a test scope over tx.
func Rollback(tx Transactor) *Scope { return NewScope(tx, ModeRollback) }

// Mode reports the scope mode.
func (s *Scope) Mode() Mode { return s.mode }

// Run begins a transaction and calls fn. On success the transaction is
// committed or rolled back according to the mode. When fn fails or panics
// the transaction is rolled back and the original error or panic is passed
// on unchanged; a failing rollback is only logged through the zerolog
// logger carried by ctx.
func (s *Scope) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.tx.Begin(ctx); err != nil {
		return err
	}
	ended := false
	defer func() {
		if r := recover(); r != nil {
			// Commit and Rollback own the transaction once called
			if !ended {
				s.abort(ctx, "panic")
			}
			panic(r)
		}
	}()
	if err := fn(ctx); err != nil {
		s.abort(ctx, "error")
		return err
	}
	ended = true
	if s.mode == ModeRollback {
		return s.tx.Rollback(ctx)
	}
	return s.tx.Commit(ctx)
}

func (s *Scope) abort(ctx context.Context, cause string) {
	if err := s.tx.Rollback(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("cause", cause).Str("mode", s.mode.String()).Msg("scope rollback failed")
	}
}
