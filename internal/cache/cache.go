package cache

import (
	"sync"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// SlugCache caches slug resolutions so attach and reconnect bursts avoid
// repeated db reads. Latency on attach is user-visible, the resolution
// result only changes when a map's slugs are rewritten.
type SlugCache struct {
	m     sync.Mutex
	slugs map[string]SlugEntry
	byMap map[string][]string
}

// SlugEntry is one cached resolution: the map a slug belongs to and the
// tier it grants.
type SlugEntry struct {
	MapID string
	Tier  mapdata.Tier
}

func NewSlugCache() *SlugCache {
	return &SlugCache{
		slugs: make(map[string]SlugEntry),
		byMap: make(map[string][]string),
	}
}

func (c *SlugCache) Get(slug string) (SlugEntry, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	e, ok := c.slugs[slug]
	return e, ok
}

func (c *SlugCache) Add(slug string, e SlugEntry) {
	c.m.Lock()
	defer c.m.Unlock()
	c.slugs[slug] = e
	c.byMap[e.MapID] = append(c.byMap[e.MapID], slug)
}

// InvalidateMap drops every cached slug of one map. Called when a map's
// slugs change or the map is deleted.
func (c *SlugCache) InvalidateMap(mapID string) {
	c.m.Lock()
	defer c.m.Unlock()
	for _, slug := range c.byMap[mapID] {
		delete(c.slugs, slug)
	}
	delete(c.byMap, mapID)
}

func (c *SlugCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.slugs = make(map[string]SlugEntry)
	c.byMap = make(map[string][]string)
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}
