package cache

import "sync"

// RowCache maps entity ids to their database row IDs so updates and
// deletes skip the lookup query.
type RowCache struct {
	mu   sync.RWMutex
	rows map[string]uint
}

// NewRowCache creates a new RowCache
func NewRowCache() *RowCache {
	return &RowCache{
		rows: make(map[string]uint),
	}
}

// Get retrieves a row ID by entity id
func (c *RowCache) Get(id string) (uint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[id]
	return row, ok
}

// Set stores a row ID by entity id
func (c *RowCache) Set(id string, row uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[id] = row
}

// Delete removes an entity from the cache
func (c *RowCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, id)
}

// Reset clears the cache
func (c *RowCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = make(map[string]uint)
}
