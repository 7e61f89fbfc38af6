package session

import (
	"sync"

	"jsonapi-service/internal/pkg/token"
)

// Credentials is a refresh outcome: the token the client should switch to
// and, when a rotation minted one, the matching crypto key. RefreshBy bounds
// how long a cached refresh result may be replayed.
type Credentials struct {
	Token     string `json:"token"`
	Key       string `json:"key,omitempty"`
	RefreshBy int64  `json:"rf,omitempty"`
}

// Entry is one cached validation result, keyed by the raw presented token.
// This is a soft cache: presence never overrides the codec's validity check,
// and absence is always safe to recompute.
type Entry struct {
	Decoded *token.Claims
	// Token is the canonical stored token for the user, which may differ
	// from the presented one after a rotation.
	Token   string
	UserID  int64
	Refresh *Credentials
}

// Cache is the process-local session cache. Entries are derived
// deterministically from the token, so racing writers are harmless and
// last-write-wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

func (c *Cache) Get(rawToken string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[rawToken]
}

func (c *Cache) Set(rawToken string, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rawToken] = e
}

func (c *Cache) Delete(rawToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, rawToken)
}

// Len reports the number of live entries. Tests only.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
