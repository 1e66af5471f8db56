package domain

import "context"

// Params carries query parameter bindings. Positional values bind to `?`
// and `?N` placeholders, Named values to `:name` placeholders.
type Params struct {
	Positional []any
	Named      map[string]any
}

// Positional builds positional bindings.
func Positional(args ...any) Params { return Params{Positional: args} }

// Named builds named bindings.
func Named(params map[string]any) Params { return Params{Named: params} }

// EntityStore is the transactional entity-management collaborator a
// PersistenceManager wraps. One store holds one persistence context and at
// most one active transaction. Implementations are not required to be safe
// for concurrent writers.
type EntityStore interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// InTransaction reports whether a transaction is active.
	InTransaction() bool

	Persist(ctx context.Context, e Entity) error
	// Merge copies the state of e onto the managed instance with the same
	// identity and returns that instance. e itself is never modified.
	Merge(ctx context.Context, e Entity) (Entity, error)
	// Remove deletes e. Removing an unknown entity is not an error.
	Remove(ctx context.Context, e Entity) error
	Refresh(ctx context.Context, e Entity) error
	Flush(ctx context.Context) error
	// Find returns the managed instance for id, or nil when absent.
	Find(ctx context.Context, t EntityType, id string) (Entity, error)
	// Contains reports persistence-context membership of this instance.
	Contains(e Entity) bool
	Count(ctx context.Context, t EntityType) (int64, error)
	Query(ctx context.Context, t EntityType, query string, params Params) ([]Entity, error)
	NamedQuery(ctx context.Context, t EntityType, name string, params Params) ([]Entity, error)

	Close() error
}

// ChangeOp classifies a committed row change.
type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeDelete ChangeOp = "delete"
)

// Change is one row of the delta a transaction commits. Payload is the JSON
// document for upserts and nil for deletes.
type Change struct {
	Op      ChangeOp
	Kind    string
	ID      string
	Payload []byte
}

// CommitHook receives the row delta before a commit is published. A
// returned error rolls the transaction back.
type CommitHook func(ctx context.Context, changes []Change) error
