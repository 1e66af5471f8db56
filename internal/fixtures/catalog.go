// Package fixtures loads and exports fixture documents between an archive
// and a persistence manager.
package fixtures

import (
	"fmt"
	"sort"
	"sync"

	"persistkit/internal/testmodel"
	"persistkit/pkg/domain"
)

// Catalog maps kind names to entity types.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]domain.EntityType
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{types: make(map[string]domain.EntityType)}
}

// DefaultCatalog knows the bundled sample entities.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	if err := c.Register(
		domain.MustTypeOf[*testmodel.Beverage](),
		domain.MustTypeOf[*testmodel.Carafe](),
	); err != nil {
		panic(err)
	}
	return c
}

// Register adds entity types. Registering a kind twice is an error.
func (c *Catalog) Register(types ...domain.EntityType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		if t.IsZero() {
			return fmt.Errorf("register: zero entity type")
		}
		if _, ok := c.types[t.Name]; ok {
			return fmt.Errorf("register: kind %s already registered", t.Name)
		}
		c.types[t.Name] = t
	}
	return nil
}

// Lookup returns the entity type registered for kind.
func (c *Catalog) Lookup(kind string) (domain.EntityType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[kind]
	return t, ok
}

// Kinds lists registered kinds in sorted order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.types))
	for k := range c.types {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
