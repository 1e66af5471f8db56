// Package memory provides the in-memory entity store: a persistence context
// over JSON rows with copy-on-begin transactions. The durable backends embed
// it and persist the committed delta.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"persistkit/internal/infra/persistence/query"
	"persistkit/pkg/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Compile-time contract assertion ensuring memory.Store satisfies the collaborator interface.
var _ domain.EntityStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs a hook that receives the row delta of each commit.
func WithCommitHook(hook domain.CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// WithLogger sets the logger used for transaction boundaries.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithQueryCacheSize bounds the compiled query cache.
func WithQueryCacheSize(n int) Option {
	return func(s *Store) { s.compiler = query.NewCompiler(n) }
}

// WithIDGenerator overrides identity generation for entities persisted
// without an id.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Snapshot is a point-in-time copy of the committed rows: kind -> id -> JSON.
type Snapshot map[string]map[string][]byte

func (s Snapshot) clone() Snapshot {
	out := make(Snapshot, len(s))
	for kind, rows := range s {
		cp := make(map[string][]byte, len(rows))
		for id, payload := range rows {
			cp[id] = append([]byte(nil), payload...)
		}
		out[kind] = cp
	}
	return out
}

func (s Snapshot) get(k key) ([]byte, bool) {
	payload, ok := s[k.kind][k.id]
	return payload, ok
}

func (s Snapshot) put(k key, payload []byte) {
	rows, ok := s[k.kind]
	if !ok {
		rows = make(map[string][]byte)
		s[k.kind] = rows
	}
	rows[k.id] = payload
}

type key struct {
	kind string
	id   string
}

func (k key) String() string { return k.kind + "/" + k.id }

// entry is one managed instance of the persistence context.
type entry struct {
	entity  domain.Entity
	isNew   bool   // persisted but not yet flushed
	flushed []byte // payload at last load or flush
}

// Store is the in-memory entity store.
type Store struct {
	mu        sync.Mutex
	committed Snapshot
	working   Snapshot // nil outside a transaction
	touched   map[key]struct{}
	managed   map[key]*entry
	removals  map[key]struct{}
	closed    bool

	hook     domain.CommitHook
	compiler *query.Compiler
	newID    func() string
	log      zerolog.Logger
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		committed: make(Snapshot),
		managed:   make(map[key]*entry),
		removals:  make(map[key]struct{}),
		newID:     uuid.NewString,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.compiler == nil {
		s.compiler = query.NewCompiler(query.DefaultCacheSize)
	}
	return s
}

// ExportState clones the committed rows.
func (s *Store) ExportState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.clone()
}

// ImportState replaces the committed rows and detaches every managed instance.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot == nil {
		snapshot = make(Snapshot)
	}
	s.committed = snapshot.clone()
	s.managed = make(map[key]*entry)
	s.removals = make(map[key]struct{})
}

// Begin opens a transaction over a copy of the committed rows.
func (s *Store) Begin(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen("begin"); err != nil {
		return err
	}
	if s.working != nil {
		return &domain.StoreError{Op: "begin", Err: domain.ErrTransactionActive}
	}
	s.working = s.committed.clone()
	s.touched = make(map[key]struct{})
	s.log.Debug().Msg("transaction started")
	return nil
}

// Commit flushes pending changes, hands the delta to the commit hook and
// publishes the transaction state. Managed instances are detached once the
// transaction ends. A hook failure rolls back.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTx("commit"); err != nil {
		return err
	}
	if err := s.flushLocked(); err != nil {
		s.rollbackLocked()
		return err
	}
	changes := s.deltaLocked()
	if s.hook != nil && len(changes) > 0 {
		if err := s.hook(ctx, changes); err != nil {
			s.rollbackLocked()
			return &domain.StoreError{Op: "commit", Err: err}
		}
	}
	s.committed = s.working
	s.working = nil
	s.touched = nil
	s.detachLocked()
	s.log.Debug().Int("changes", len(changes)).Msg("transaction committed")
	return nil
}

// Rollback discards the transaction and detaches every managed instance.
func (s *Store) Rollback(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTx("rollback"); err != nil {
		return err
	}
	s.rollbackLocked()
	s.log.Debug().Msg("transaction rolled back")
	return nil
}

// InTransaction reports whether Begin has been called without a matching
// Commit or Rollback.
func (s *Store) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working != nil
}

// Persist makes e managed; its row is inserted on the next flush. An empty
// identity is assigned before the duplicate check.
func (s *Store) Persist(_ context.Context, e domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTx("persist"); err != nil {
		return err
	}
	t, err := entityType("persist", e)
	if err != nil {
		return err
	}
	if e.EntityID() == "" {
		e.SetEntityID(s.newID())
	}
	k := key{kind: t.Name, id: e.EntityID()}
	if cur, ok := s.managed[k]; ok {
		if cur.entity == e {
			return nil
		}
		return domain.Exists(k.kind, k.id)
	}
	if _, ok := s.removals[k]; ok {
		// re-persisting a removed row turns the pending delete into an update
		delete(s.removals, k)
		s.managed[k] = &entry{entity: e}
		return nil
	}
	if _, ok := s.working.get(k); ok {
		return domain.Exists(k.kind, k.id)
	}
	s.managed[k] = &entry{entity: e, isNew: true}
	return nil
}

// Merge copies the state of e onto the managed instance with the same
// identity, loading or creating it when needed. e is never modified.
func (s *Store) Merge(_ context.Context, e domain.Entity) (domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTx("merge"); err != nil {
		return nil, err
	}
	t, err := entityType("merge", e)
	if err != nil {
		return nil, err
	}
	id := e.EntityID()
	if id != "" {
		k := key{kind: t.Name, id: id}
		if cur, ok := s.managed[k]; ok {
			if cur.entity == e {
				return e, nil
			}
			if err := copyState(cur.entity, e, id); err != nil {
				return nil, &domain.StoreError{Op: "merge", Err: err}
			}
			return cur.entity, nil
		}
		if _, ok := s.removals[k]; ok {
			return nil, &domain.StoreError{Op: "merge", Err: fmt.Errorf("%s is scheduled for removal", k)}
		}
		if payload, ok := s.working.get(k); ok {
			inst := t.New()
			if err := copyState(inst, e, id); err != nil {
				return nil, &domain.StoreError{Op: "merge", Err: err}
			}
			s.managed[k] = &entry{entity: inst, flushed: payload}
			return inst, nil
		}
	}
	// unknown identity: the merged state becomes a new row
	if id == "" {
		id = s.newID()
	}
	inst := t.New()
	if err := copyState(inst, e, id); err != nil {
		return nil, &domain.StoreError{Op: "merge", Err: err}
	}
	s.managed[key{kind: t.Name, id: id}] = &entry{entity: inst, isNew: true}
	return inst, nil
}

// Remove schedules the row of e for deletion and detaches e. Unknown
// entities are ignored.
func (s *Store) Remove(_ context.Context, e domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTx("remove"); err != nil {
		return err
	}
	t, err := entityType("remove", e)
	if err != nil {
		return err
	}
	if e.EntityID() == "" {
		return nil
	}
	k := key{kind: t.Name, id: e.EntityID()}
	if cur, ok := s.managed[k]; ok {
		delete(s.managed, k)
		if cur.isNew {
			return nil
		}
		s.removals[k] = struct{}{}
		return nil
	}
	if _, ok := s.working.get(k); ok {
		s.removals[k] = struct{}{}
	}
	return nil
}

// Refresh reloads e from its flushed row, discarding in-memory changes.
func (s *Store) Refresh(_ context.Context, e domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen("refresh"); err != nil {
		return err
	}
	t, err := entityType("refresh", e)
	if err != nil {
		return err
	}
	k := key{kind: t.Name, id: e.EntityID()}
	cur, ok := s.managed[k]
	if !ok || cur.entity != e {
		return &domain.StoreError{Op: "refresh", Err: domain.ErrNotManaged}
	}
	payload, ok := s.visible().get(k)
	if !ok {
		return domain.NotFound(k.kind, k.id)
	}
	if err := decodeInto(e, payload, k.id); err != nil {
		return &domain.StoreError{Op: "refresh", Err: err}
	}
	cur.flushed = payload
	cur.isNew = false
	return nil
}

// Flush writes pending changes to the transaction state.
func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireTx("flush"); err != nil {
		return err
	}
	return s.flushLocked()
}

// Find returns the managed instance for id, loading and attaching it from
// the visible rows. Outside a transaction the row is decoded into a fresh
// detached instance. Absent rows yield nil without error.
func (s *Store) Find(_ context.Context, t domain.EntityType, id string) (domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen("find"); err != nil {
		return nil, err
	}
	k := key{kind: t.Name, id: id}
	if cur, ok := s.managed[k]; ok {
		return cur.entity, nil
	}
	if _, ok := s.removals[k]; ok {
		return nil, nil
	}
	payload, ok := s.visible().get(k)
	if !ok {
		return nil, nil
	}
	return s.loadLocked(t, k, payload)
}

// Contains reports whether this exact instance is managed.
func (s *Store) Contains(e domain.Entity) bool {
	if domain.IsNil(e) {
		return false
	}
	t, err := domain.TypeOfEntity(e)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.managed[key{kind: t.Name, id: e.EntityID()}]
	return ok && cur.entity == e
}

// Count returns the number of visible rows of t, flushing first inside a
// transaction.
func (s *Store) Count(_ context.Context, t domain.EntityType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen("count"); err != nil {
		return 0, err
	}
	if s.working != nil {
		if err := s.flushLocked(); err != nil {
			return 0, err
		}
	}
	return int64(len(s.visible()[t.Name])), nil
}

// Query evaluates text against the visible rows of t.
func (s *Store) Query(_ context.Context, t domain.EntityType, text string, params domain.Params) ([]domain.Entity, error) {
	plan, err := s.compiler.Compile(text)
	if err != nil {
		return nil, &domain.StoreError{Op: "query", Err: err}
	}
	if plan.Kind != t.Name {
		return nil, &domain.StoreError{Op: "query", Err: fmt.Errorf("query selects %s, template manages %s", plan.Kind, t.Name)}
	}
	binding, err := plan.Bind(params)
	if err != nil {
		return nil, &domain.StoreError{Op: "query", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen("query"); err != nil {
		return nil, err
	}
	if s.working != nil {
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	}

	type hit struct {
		id      string
		row     map[string]any
		payload []byte
	}
	var hits []hit
	for id, payload := range s.visible()[t.Name] {
		var row map[string]any
		if err := json.Unmarshal(payload, &row); err != nil {
			return nil, &domain.StoreError{Op: "query", Err: fmt.Errorf("decode %s/%s: %w", t.Name, id, err)}
		}
		ok, err := binding.Match(row)
		if err != nil {
			return nil, &domain.StoreError{Op: "query", Err: err}
		}
		if ok {
			hits = append(hits, hit{id: id, row: row, payload: payload})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].id < hits[j].id })
	if len(plan.Order) > 0 {
		sort.SliceStable(hits, func(i, j int) bool { return plan.Less(hits[i].row, hits[j].row) })
	}

	out := make([]domain.Entity, 0, len(hits))
	for _, h := range hits {
		k := key{kind: t.Name, id: h.id}
		if cur, ok := s.managed[k]; ok {
			out = append(out, cur.entity)
			continue
		}
		inst, err := s.loadLocked(t, k, h.payload)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// NamedQuery runs the query registered under name on t.
func (s *Store) NamedQuery(ctx context.Context, t domain.EntityType, name string, params domain.Params) ([]domain.Entity, error) {
	text, ok := t.NamedQuery(name)
	if !ok {
		return nil, &domain.StoreError{Op: "named query", Err: fmt.Errorf("%w: %s", domain.ErrUnknownNamedQuery, name)}
	}
	return s.Query(ctx, t, text, params)
}

// Close releases the store. Later calls fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.working = nil
	s.touched = nil
	s.managed = make(map[key]*entry)
	s.removals = make(map[key]struct{})
	return nil
}

func (s *Store) requireOpen(op string) error {
	if s.closed {
		return &domain.StoreError{Op: op, Err: domain.ErrStoreClosed}
	}
	return nil
}

func (s *Store) requireTx(op string) error {
	if err := s.requireOpen(op); err != nil {
		return err
	}
	if s.working == nil {
		return &domain.StoreError{Op: op, Err: domain.ErrTransactionRequired}
	}
	return nil
}

func (s *Store) visible() Snapshot {
	if s.working != nil {
		return s.working
	}
	return s.committed
}

// loadLocked decodes payload into a new instance. Only a transaction has a
// persistence context to attach it to.
func (s *Store) loadLocked(t domain.EntityType, k key, payload []byte) (domain.Entity, error) {
	inst := t.New()
	if err := decodeInto(inst, payload, k.id); err != nil {
		return nil, &domain.StoreError{Op: "load", Err: err}
	}
	if s.working != nil {
		s.managed[k] = &entry{entity: inst, flushed: payload}
	}
	return inst, nil
}

func (s *Store) rollbackLocked() {
	s.working = nil
	s.touched = nil
	s.detachLocked()
}

func (s *Store) detachLocked() {
	s.managed = make(map[key]*entry)
	s.removals = make(map[key]struct{})
}

func (s *Store) flushLocked() error {
	for k := range s.removals {
		delete(s.working[k.kind], k.id)
		s.touched[k] = struct{}{}
	}
	s.removals = make(map[key]struct{})
	for k, ent := range s.managed {
		if id := ent.entity.EntityID(); id != k.id {
			return &domain.StoreError{Op: "flush", Err: fmt.Errorf("identity of managed %s changed to %q", k, id)}
		}
		payload, err := json.Marshal(ent.entity)
		if err != nil {
			return &domain.StoreError{Op: "flush", Err: fmt.Errorf("encode %s: %w", k, err)}
		}
		if ent.isNew {
			if _, exists := s.working.get(k); exists {
				return domain.Exists(k.kind, k.id)
			}
		} else if bytes.Equal(payload, ent.flushed) {
			continue
		}
		s.working.put(k, payload)
		s.touched[k] = struct{}{}
		ent.flushed = payload
		ent.isNew = false
	}
	return nil
}

// deltaLocked lists the rows that differ between the transaction and the
// committed state, ordered by kind then id.
func (s *Store) deltaLocked() []domain.Change {
	keys := make([]key, 0, len(s.touched))
	for k := range s.touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].id < keys[j].id
	})
	changes := make([]domain.Change, 0, len(keys))
	for _, k := range keys {
		before, existed := s.committed.get(k)
		after, exists := s.working.get(k)
		switch {
		case exists && existed && bytes.Equal(before, after):
		case exists:
			changes = append(changes, domain.Change{Op: domain.ChangeUpsert, Kind: k.kind, ID: k.id, Payload: after})
		case existed:
			changes = append(changes, domain.Change{Op: domain.ChangeDelete, Kind: k.kind, ID: k.id})
		}
	}
	return changes
}

func entityType(op string, e domain.Entity) (domain.EntityType, error) {
	if domain.IsNil(e) {
		return domain.EntityType{}, &domain.StoreError{Op: op, Err: fmt.Errorf("nil entity")}
	}
	t, err := domain.TypeOfEntity(e)
	if err != nil {
		return domain.EntityType{}, &domain.StoreError{Op: op, Err: err}
	}
	return t, nil
}

// copyState overwrites dst with the JSON state of src and pins its identity.
func copyState(dst, src domain.Entity, id string) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return decodeInto(dst, raw, id)
}

func decodeInto(dst domain.Entity, payload []byte, id string) error {
	domain.Reset(dst)
	if err := json.Unmarshal(payload, dst); err != nil {
		return err
	}
	dst.SetEntityID(id)
	return nil
}
