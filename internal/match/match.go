// Package match compiles and caches the *-style glob patterns used
// throughout the core: subscription patterns, getKeys/getObjectsByPattern
// patterns, and chown/chmod/touch/rm file patterns. Patterns are compiled
// once and reused, the same shape the teacher uses for its ACL and
// pub/sub channel globs.
package match

import (
	"log"
	"sync"

	"github.com/gobwas/glob"
)

// Cache compiles glob patterns on first use and reuses the compiled
// matcher on every subsequent call with the same pattern string.
type Cache struct {
	mu    sync.RWMutex
	globs map[string]glob.Glob
}

// NewCache returns an empty pattern cache.
func NewCache() *Cache {
	return &Cache{globs: make(map[string]glob.Glob)}
}

// Compile returns the compiled matcher for pattern, compiling and
// caching it if this is the first time it has been seen. A malformed
// pattern is never cached and is reported back to the caller instead
// of panicking the connection goroutine that supplied it.
func (c *Cache) Compile(pattern string) (glob.Glob, error) {
	c.mu.RLock()
	g, ok := c.globs[pattern]
	c.mu.RUnlock()
	if ok {
		return g, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok = c.globs[pattern]; ok {
		return g, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.globs[pattern] = g
	return g, nil
}

// Match reports whether s matches pattern. A malformed pattern never
// matches; the compile error is logged rather than propagated, the
// same "resolve to the safe default, log the reason" shape the ACL
// engine uses for malformed subjects.
func (c *Cache) Match(pattern, s string) bool {
	g, err := c.Compile(pattern)
	if err != nil {
		log.Printf("match: invalid pattern %q: %v", pattern, err)
		return false
	}
	return g.Match(s)
}
