package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

type point struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

func TestMemoryCacheStoresJSONAndRaw(t *testing.T) {
	mc := NewMemoryCache(MemoryConfig{})
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "p", point{X: 3, Y: 1.5}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got point
	if err := mc.Get(ctx, "p", &got); err != nil || got.X != 3 || got.Y != 1.5 {
		t.Fatalf("got %+v err %v", got, err)
	}
	var raw string
	if err := mc.Get(ctx, "p", &raw); err != nil || raw != `{"x":3,"y":1.5}` {
		t.Fatalf("raw %q err %v", raw, err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(MemoryConfig{})
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "short", "v", time.Millisecond)
	_ = mc.Set(ctx, "forever", "v", 0)
	time.Sleep(5 * time.Millisecond)

	var s string
	if err := mc.Get(ctx, "short", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := mc.Get(ctx, "forever", &s); err != nil || s != "v" {
		t.Fatalf("expected value, got %q %v", s, err)
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(MemoryConfig{MaxEntries: 2})
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", 1, 0)
	_ = mc.Set(ctx, "b", 2, 0)
	var n int
	_ = mc.Get(ctx, "a", &n)
	_ = mc.Set(ctx, "c", 3, 0)

	if err := mc.Get(ctx, "b", &n); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("b should be evicted, got %v", err)
	}
	if err := mc.Get(ctx, "a", &n); err != nil || n != 1 {
		t.Fatalf("a should survive, got %d %v", n, err)
	}
	if mc.Len() != 2 {
		t.Fatalf("len %d", mc.Len())
	}
}

func TestMemoryCacheUnboundedNeverEvicts(t *testing.T) {
	mc := NewMemoryCache(MemoryConfig{})
	defer mc.Close()
	ctx := context.Background()

	for i := 0; i < 5000; i++ {
		_ = mc.Set(ctx, "k"+strconv.Itoa(i), i, 0)
	}
	if mc.Len() != 5000 {
		t.Fatalf("len %d", mc.Len())
	}
}

func TestMemoryCacheKeysAndDelete(t *testing.T) {
	mc := NewMemoryCache(MemoryConfig{})
	defer mc.Close()
	ctx := context.Background()

	for _, k := range []string{"row:b", "row:a", "other:c"} {
		_ = mc.Set(ctx, k, 1, 0)
	}
	keys, err := mc.Keys(ctx, "row:*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "row:a" || keys[1] != "row:b" {
		t.Fatalf("unexpected keys %v", keys)
	}

	_ = mc.Delete(ctx, "row:a", "missing")
	keys, _ = mc.Keys(ctx, "*")
	if len(keys) != 2 || keys[0] != "other:c" {
		t.Fatalf("unexpected keys after delete %v", keys)
	}
}

func TestMemoryCacheSetIfAbsent(t *testing.T) {
	mc := NewMemoryCache(MemoryConfig{})
	defer mc.Close()
	ctx := context.Background()

	if ok, _ := mc.SetIfAbsent(ctx, "marker", "1", 0); !ok {
		t.Fatal("first claim should win")
	}
	if ok, _ := mc.SetIfAbsent(ctx, "marker", "1", 0); ok {
		t.Fatal("second claim should lose")
	}
	_ = mc.Delete(ctx, "marker")
	if ok, _ := mc.SetIfAbsent(ctx, "marker", "1", time.Millisecond); !ok {
		t.Fatal("claim after delete should win")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := mc.SetIfAbsent(ctx, "marker", "1", 0); !ok {
		t.Fatal("claim after expiry should win")
	}
}
