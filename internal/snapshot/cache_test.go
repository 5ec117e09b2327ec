package snapshot

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(10*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	if err := c.Set(ctx, "kettle||", []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}

	ids, ok := c.Get(ctx, "kettle||")
	if !ok || len(ids) != 3 || ids[0] != "a" {
		t.Fatalf("fresh entry lost: %v %v", ids, ok)
	}

	// inside the window the ordering is stable
	now = now.Add(9 * time.Minute)
	ids, ok = c.Get(ctx, "kettle||")
	if !ok || ids[2] != "c" {
		t.Fatalf("entry expired early: %v %v", ids, ok)
	}

	// past the window the entry is gone
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "kettle||"); ok {
		t.Fatal("entry outlived its TTL")
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d after expiry", c.Len())
	}
}

func TestMemoryCacheReturnsCopy(t *testing.T) {
	c := NewMemoryCache(time.Minute, nil)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []string{"x", "y"})

	ids, _ := c.Get(ctx, "k")
	ids[0] = "mutated"

	again, _ := c.Get(ctx, "k")
	if again[0] != "x" {
		t.Fatal("caller mutation leaked into the cache")
	}
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Hour, func() time.Time { return now })
	c.maxEntries = 2
	ctx := context.Background()

	_ = c.Set(ctx, "first", []string{"1"})
	now = now.Add(time.Second)
	_ = c.Set(ctx, "second", []string{"2"})
	now = now.Add(time.Second)
	_ = c.Set(ctx, "third", []string{"3"})

	if _, ok := c.Get(ctx, "first"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	for _, k := range []string{"second", "third"} {
		if _, ok := c.Get(ctx, k); !ok {
			t.Fatalf("entry %q evicted wrongly", k)
		}
	}
}
