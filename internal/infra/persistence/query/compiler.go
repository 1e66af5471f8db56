package query

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of compiled plans kept per compiler.
const DefaultCacheSize = 256

// Compiler parses query text and caches the resulting plans.
type Compiler struct {
	cache *lru.Cache[string, *Plan]
}

// NewCompiler returns a compiler holding up to size plans.
func NewCompiler(size int) *Compiler {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Plan](size)
	if err != nil {
		panic(err)
	}
	return &Compiler{cache: cache}
}

// Compile returns the cached plan for text, parsing it on a miss. Parse
// failures are not cached.
func (c *Compiler) Compile(text string) (*Plan, error) {
	if plan, ok := c.cache.Get(text); ok {
		return plan, nil
	}
	plan, err := Parse(text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, plan)
	return plan, nil
}

// Len reports the number of cached plans.
func (c *Compiler) Len() int { return c.cache.Len() }
