// Package sqlite provides a SQLite-backed entity store. Rows are loaded into
// the in-memory persistence engine on open and each commit writes its delta
// back inside a single SQL transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"persistkit/internal/infra/persistence/memory"
	"persistkit/pkg/domain"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the collaborator interface.
var _ domain.EntityStore = (*Store)(nil)

const defaultPath = "persistkit.db"

// Store persists entity rows to a single SQLite table.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

// Options tunes the embedded memory engine.
type Options struct {
	QueryCacheSize int
	Logger         *zerolog.Logger
}

// NewStore opens (creating if needed) the database at path and hydrates the
// in-memory engine from it.
func NewStore(ctx context.Context, path string, opts Options) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases coherent and serialises writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (kind, id)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create entities table: %w", err)
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	s := &Store{db: db, path: path, log: log.With().Str("store", "sqlite").Str("path", path).Logger()}
	s.Store = memory.NewStore(
		memory.WithCommitHook(s.write),
		memory.WithQueryCacheSize(opts.QueryCacheSize),
		memory.WithLogger(s.log),
	)
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, id, payload FROM entities`)
	if err != nil {
		return fmt.Errorf("select entities: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	n := 0
	for rows.Next() {
		var kind, id string
		var payload []byte
		if err := rows.Scan(&kind, &id, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if snapshot[kind] == nil {
			snapshot[kind] = make(map[string][]byte)
		}
		snapshot[kind][id] = payload
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entities: %w", err)
	}
	s.ImportState(snapshot)
	s.log.Debug().Int("rows", n).Msg("entity rows loaded")
	return nil
}

// write applies one commit delta.
func (s *Store) write(ctx context.Context, changes []domain.Change) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, c := range changes {
		switch c.Op {
		case domain.ChangeUpsert:
			if _, err := tx.ExecContext(ctx, `INSERT INTO entities(kind,id,payload) VALUES(?,?,?) ON CONFLICT(kind,id) DO UPDATE SET payload=excluded.payload`, c.Kind, c.ID, c.Payload); err != nil {
				return fmt.Errorf("upsert %s/%s: %w", c.Kind, c.ID, err)
			}
		case domain.ChangeDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND id = ?`, c.Kind, c.ID); err != nil {
				return fmt.Errorf("delete %s/%s: %w", c.Kind, c.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the persistence context and the database handle.
func (s *Store) Close() error {
	if err := s.Store.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
