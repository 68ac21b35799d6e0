package cache

import (
	"sync"
	"testing"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

func TestSlugCache_AddAndGet(t *testing.T) {
	c := NewSlugCache()

	c.Add("w-slug", SlugEntry{MapID: "m1", Tier: mapdata.TierWrite})

	e, ok := c.Get("w-slug")
	if !ok {
		t.Fatal("expected cached entry")
	}
	if e.MapID != "m1" || e.Tier != mapdata.TierWrite {
		t.Errorf("unexpected entry %+v", e)
	}

	if _, ok := c.Get("unknown"); ok {
		t.Error("expected miss for unknown slug")
	}
}

func TestSlugCache_InvalidateMap(t *testing.T) {
	c := NewSlugCache()
	c.Add("r1", SlugEntry{MapID: "m1", Tier: mapdata.TierRead})
	c.Add("w1", SlugEntry{MapID: "m1", Tier: mapdata.TierWrite})
	c.Add("r2", SlugEntry{MapID: "m2", Tier: mapdata.TierRead})

	c.InvalidateMap("m1")

	if _, ok := c.Get("r1"); ok {
		t.Error("r1 should be gone")
	}
	if _, ok := c.Get("w1"); ok {
		t.Error("w1 should be gone")
	}
	if _, ok := c.Get("r2"); !ok {
		t.Error("r2 belongs to another map and should survive")
	}
}

func TestRowCache(t *testing.T) {
	c := NewRowCache()

	c.Set("line-a", 7)
	row, ok := c.Get("line-a")
	if !ok || row != 7 {
		t.Fatalf("expected row 7, got %d ok=%v", row, ok)
	}

	c.Delete("line-a")
	if _, ok := c.Get("line-a"); ok {
		t.Error("expected miss after delete")
	}
}

func TestSafeCounter_Concurrent(t *testing.T) {
	var c SafeCounter

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}
	wg.Wait()

	if c.Value() != 50 {
		t.Errorf("expected 50, got %d", c.Value())
	}
}
