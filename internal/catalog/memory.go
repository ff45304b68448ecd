package catalog

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryCatalog implements Catalog.
var _ Catalog = (*MemoryCatalog)(nil)

// MemoryCatalog is an in-memory implementation of Catalog.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; swap for persistent storage in production.
type MemoryCatalog struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryCatalog creates a new in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		records: make(map[string]*Record),
	}
}

// Insert persists a record to the in-memory storage.
// Stores a copy to avoid external mutations.
func (c *MemoryCatalog) Insert(_ context.Context, rec *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *rec
	c.records[rec.Token] = &cp
	return nil
}

// FindByToken retrieves a record by its token.
// Returns a copy to prevent external mutations.
func (c *MemoryCatalog) FindByToken(_ context.Context, token string) (*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[token]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// FindExpiredBefore returns all records whose expiry is strictly before t.
func (c *MemoryCatalog) FindExpiredBefore(_ context.Context, t time.Time) ([]*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*Record, 0)
	for _, rec := range c.records {
		if rec.ExpiresAt.Before(t) {
			cp := *rec
			result = append(result, &cp)
		}
	}
	return result, nil
}

// DeleteByToken removes the record for a token. Deleting an absent token
// is a no-op success.
func (c *MemoryCatalog) DeleteByToken(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, token)
	return nil
}
