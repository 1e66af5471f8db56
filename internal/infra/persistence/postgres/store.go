// Package postgres provides a Postgres-backed entity store. It mirrors the
// in-memory semantics and writes each commit delta to a JSONB entity table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"persistkit/internal/infra/persistence/memory"
	"persistkit/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/rs/zerolog"
)

// Compile-time contract assertion ensuring the store satisfies the collaborator interface.
var _ domain.EntityStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured for the persistence unit.
	DefaultDSN = "postgres://localhost/persistkit?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Options tunes the embedded memory engine.
type Options struct {
	QueryCacheSize int
	Logger         *zerolog.Logger
}

// Store persists entity rows to Postgres while reusing the in-memory engine
// for the persistence context.
type Store struct {
	*memory.Store
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewStore opens a Postgres-backed store using dsn (falls back to DefaultDSN),
// ensures the entity table exists and hydrates the engine from it.
func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureEntityTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	s := &Store{db: db, log: log.With().Str("store", "postgres").Logger()}
	s.Store = memory.NewStore(
		memory.WithCommitHook(s.persist),
		memory.WithQueryCacheSize(opts.QueryCacheSize),
		memory.WithLogger(s.log),
	)
	s.ImportState(snapshot)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the persistence context and the connection pool.
func (s *Store) Close() error {
	if err := s.Store.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

func ensureEntityTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (kind, id)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure entities table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT kind, id, payload FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("select entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{}
	for rows.Next() {
		var kind, id string
		var payload []byte
		if err := rows.Scan(&kind, &id, &payload); err != nil {
			return nil, fmt.Errorf("scan entities: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if snapshot[kind] == nil {
			snapshot[kind] = make(map[string][]byte)
		}
		snapshot[kind][id] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context, changes []domain.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, c := range changes {
		switch c.Op {
		case domain.ChangeUpsert:
			if _, err := tx.ExecContext(ctx, `INSERT INTO entities(kind,id,payload) VALUES($1,$2,$3) ON CONFLICT(kind,id) DO UPDATE SET payload=EXCLUDED.payload`, c.Kind, c.ID, string(c.Payload)); err != nil {
				return fmt.Errorf("upsert %s/%s: %w", c.Kind, c.ID, err)
			}
		case domain.ChangeDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE kind=$1 AND id=$2`, c.Kind, c.ID); err != nil {
				return fmt.Errorf("delete %s/%s: %w", c.Kind, c.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.log.Debug().Int("changes", len(changes)).Msg("entity rows written")
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
