package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by entity stores. Match with errors.Is.
var (
	ErrEntityExists        = errors.New("entity already exists")
	ErrEntityNotFound      = errors.New("entity not found")
	ErrTransactionRequired = errors.New("no active transaction")
	ErrTransactionActive   = errors.New("transaction already active")
	ErrStoreClosed         = errors.New("entity store closed")
	ErrNotManaged          = errors.New("entity is not managed")
	ErrUnknownNamedQuery   = errors.New("unknown named query")
)

// EntityError reports a duplicate or missing identity.
type EntityError struct {
	Kind string
	ID   string
	Err  error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// StoreError wraps any other failure raised by the store: malformed
// queries, parameter binding, transport errors.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConfigurationError is returned when a store cannot be initialised for an
// environment.
type ConfigurationError struct {
	Environment string
	Err         error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("persistence unit %q: %v", e.Environment, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Exists builds the duplicate-identity error for kind/id.
func Exists(kind, id string) error {
	return &EntityError{Kind: kind, ID: id, Err: ErrEntityExists}
}

// NotFound builds the missing-identity error for kind/id.
func NotFound(kind, id string) error {
	return &EntityError{Kind: kind, ID: id, Err: ErrEntityNotFound}
}

// StoreFailure wraps err as a StoreError unless it already is an entity or
// store error.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EntityError
	if errors.As(err, &ee) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
