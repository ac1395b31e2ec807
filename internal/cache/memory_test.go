package cache

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestMemoryPutGet(t *testing.T) {
	c := NewMemory(1024)

	if err := c.Put("a", []byte("alpha")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok := c.Get("a")
	if !ok || !bytes.Equal(got, []byte("alpha")) {
		t.Errorf("Get() = (%q, %v), want alpha", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) = true")
	}
}

func TestMemoryLRUEviction(t *testing.T) {
	// Room for exactly two 4-byte values.
	c := NewMemory(8)

	if err := c.Put("a", []byte("aaaa")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("b", []byte("bbbb")); err != nil {
		t.Fatal(err)
	}

	// Touch a so b becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing before eviction")
	}

	if err := c.Put("c", []byte("cccc")); err != nil {
		t.Fatal(err)
	}

	if c.Contains("b") {
		t.Error("b should have been evicted as least recently used")
	}
	if !c.Contains("a") || !c.Contains("c") {
		t.Error("a and c should survive")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestMemoryUpdateExisting(t *testing.T) {
	c := NewMemory(1024)

	if err := c.Put("k", []byte("short")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("k", []byte("a much longer replacement")); err != nil {
		t.Fatal(err)
	}

	got, ok := c.Get("k")
	if !ok || string(got) != "a much longer replacement" {
		t.Errorf("Get() = (%q, %v)", got, ok)
	}
	if c.Size() != int64(len("a much longer replacement")) {
		t.Errorf("Size() = %d, want replacement size only", c.Size())
	}
}

func TestMemoryItemTooLarge(t *testing.T) {
	c := NewMemory(4)
	if err := c.Put("big", []byte("too big to fit")); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Put() error = %v, want ErrItemTooLarge", err)
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	c := NewMemory(1024)
	for i := 0; i < 3; i++ {
		if err := c.Put(fmt.Sprintf("k%d", i), []byte("vvvv")); err != nil {
			t.Fatal(err)
		}
	}

	c.Delete("k1")
	if c.Contains("k1") {
		t.Error("k1 still present after Delete")
	}
	if c.Size() != 8 {
		t.Errorf("Size() = %d, want 8", c.Size())
	}

	c.Clear()
	if c.Size() != 0 || c.Contains("k0") {
		t.Error("Clear() left entries behind")
	}
}

func TestMemoryStats(t *testing.T) {
	c := NewMemory(1024)
	if err := c.Put("k", []byte("v")); err != nil {
		t.Fatal(err)
	}

	c.Get("k")       //nolint:errcheck
	c.Get("missing") //nolint:errcheck

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Hits, Misses = %d, %d, want 1, 1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", stats.HitRate)
	}
	if stats.ItemCount != 1 {
		t.Errorf("ItemCount = %d, want 1", stats.ItemCount)
	}
}
