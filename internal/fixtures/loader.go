package fixtures

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"persistkit/internal/archive"
	"persistkit/internal/repository"
	"persistkit/pkg/domain"

	"github.com/rs/zerolog"
)

const contentType = "application/json"

// Document is the archived form of a set of entities of one kind.
type Document struct {
	Kind  string `json:"kind"`
	Items []Item `json:"items"`
}

// Item carries one entity. ID is applied after Data is decoded so entities
// that keep their identity out of JSON still round-trip.
type Item struct {
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Manager is the persistence manager surface the loader uses.
type Manager interface {
	repository.Transactor
	Store() domain.EntityStore
}

// Loader moves fixture documents between an archive and a manager.
type Loader struct {
	Archive archive.Store
	Catalog *Catalog
}

// NewLoader returns a loader over store using the default catalog when
// catalog is nil.
func NewLoader(store archive.Store, catalog *Catalog) *Loader {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Loader{Archive: store, Catalog: catalog}
}

// Load reads the document at key and persists every item in one committed
// transaction. Nothing is persisted when any item fails.
func (l *Loader) Load(ctx context.Context, pm Manager, key string) (int, error) {
	_, rc, err := l.Archive.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read fixture %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	var doc Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode fixture %s: %w", key, err)
	}
	typ, ok := l.Catalog.Lookup(doc.Kind)
	if !ok {
		return 0, fmt.Errorf("fixture %s: unknown kind %q", key, doc.Kind)
	}
	loaded := 0
	err = repository.Commit(pm).Run(ctx, func(ctx context.Context) error {
		store := pm.Store()
		for i, item := range doc.Items {
			e := typ.New()
			if len(item.Data) > 0 {
				if err := json.Unmarshal(item.Data, e); err != nil {
					return fmt.Errorf("fixture %s item %d: %w", key, i, err)
				}
			}
			if item.ID != "" {
				e.SetEntityID(item.ID)
			}
			if err := store.Persist(ctx, e); err != nil {
				return err
			}
			loaded++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	zerolog.Ctx(ctx).Info().Str("key", key).Str("kind", doc.Kind).Int("items", loaded).Msg("fixture loaded")
	return loaded, nil
}

// Export writes every committed entity of kind to key, replacing any
// document already stored there.
func (l *Loader) Export(ctx context.Context, pm Manager, kind, key string) (int, error) {
	typ, ok := l.Catalog.Lookup(kind)
	if !ok {
		return 0, fmt.Errorf("export: unknown kind %q", kind)
	}
	found, err := pm.Store().Query(ctx, typ, "from "+typ.Name, domain.Params{})
	if err != nil {
		return 0, err
	}
	doc := Document{Kind: typ.Name, Items: make([]Item, 0, len(found))}
	for _, e := range found {
		data, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("export %s/%s: %w", kind, e.EntityID(), err)
		}
		doc.Items = append(doc.Items, Item{ID: e.EntityID(), Data: data})
	}
	sort.Slice(doc.Items, func(i, j int) bool { return doc.Items[i].ID < doc.Items[j].ID })
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	if err := l.replace(ctx, key, payload); err != nil {
		return 0, err
	}
	zerolog.Ctx(ctx).Info().Str("key", key).Str("kind", kind).Int("items", len(doc.Items)).Msg("fixture exported")
	return len(doc.Items), nil
}

// replace swaps the document at key for payload. The archive only creates
// objects, so the previous document is read back first and restored when
// the new one cannot be written.
func (l *Loader) replace(ctx context.Context, key string, payload []byte) error {
	previous, err := l.read(ctx, key)
	if err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	if previous != nil {
		if _, err := l.Archive.Delete(ctx, key); err != nil && !errors.Is(err, archive.ErrNotFound) {
			return fmt.Errorf("replace %s: %w", key, err)
		}
	}
	_, err = l.Archive.Put(ctx, key, bytes.NewReader(payload), contentType)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("write %s: %w", key, err)
	if previous != nil {
		if _, rerr := l.Archive.Put(ctx, key, bytes.NewReader(previous), contentType); rerr != nil {
			return errors.Join(err, fmt.Errorf("restore %s: %w", key, rerr))
		}
	}
	return err
}

// read returns the document stored at key, or nil when there is none.
func (l *Loader) read(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := l.Archive.Get(ctx, key)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
