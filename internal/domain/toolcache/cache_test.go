package toolcache

import (
	"testing"
	"time"
)

func TestCache_PutGet(t *testing.T) {
	c := New(5*time.Second, 100, 0)

	args := map[string]interface{}{"path": "main.go"}
	c.Put("read_file", args, "file contents", true)

	res, hit := c.Get("read_file", args)
	if !hit {
		t.Fatal("expected cache hit")
	}
	if res.Output != "file contents" {
		t.Fatalf("expected 'file contents', got %q", res.Output)
	}
	if !res.Success {
		t.Fatal("expected success=true")
	}
}

func TestCache_Miss(t *testing.T) {
	c := New(5*time.Second, 100, 0)

	_, hit := c.Get("read_file", map[string]interface{}{"path": "missing"})
	if hit {
		t.Fatal("expected cache miss")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 100, 0)

	c.Put("grep", map[string]interface{}{"pattern": "ls"}, "out", true)
	time.Sleep(20 * time.Millisecond)

	_, hit := c.Get("grep", map[string]interface{}{"pattern": "ls"})
	if hit {
		t.Fatal("expected expired entry to miss")
	}
}

func TestCache_EvictsOnCount(t *testing.T) {
	c := New(time.Minute, 2, 0)

	c.Put("read_file", map[string]interface{}{"n": 1}, "a", true)
	c.Put("read_file", map[string]interface{}{"n": 2}, "b", true)
	c.Put("read_file", map[string]interface{}{"n": 3}, "c", true)

	if c.Size() != 2 {
		t.Fatalf("expected size 2 after eviction, got %d", c.Size())
	}
	if _, hit := c.Get("read_file", map[string]interface{}{"n": 1}); hit {
		t.Fatal("expected oldest entry to be evicted")
	}
}

func TestCache_EvictsOnByteSize(t *testing.T) {
	// max_bytes=100 caps any single entry at 10 bytes (max_bytes/10); pushing
	// 20 eight-byte entries (160 bytes total) through a 100-byte budget with
	// a generous count bound forces LRU eviction by size, not by count.
	c := New(time.Minute, 1000, 100)

	for i := 0; i < 20; i++ {
		c.Put("read_file", map[string]interface{}{"n": i}, "12345678", true)
	}

	if c.Size() >= 20 {
		t.Fatalf("expected byte-size eviction to keep fewer than 20 entries, got %d", c.Size())
	}
	if _, hit := c.Get("read_file", map[string]interface{}{"n": 0}); hit {
		t.Fatal("expected the oldest entry to have been evicted by byte-size pressure")
	}
}

func TestCache_RejectsEntryOverTenthOfMaxBytes(t *testing.T) {
	c := New(time.Minute, 100, 100) // max_bytes/10 == 10

	c.Put("read_file", map[string]interface{}{"n": 1}, "01234567890", true) // 11 bytes, over the cap
	if c.Size() != 0 {
		t.Fatal("expected oversized entry to be rejected, not inserted")
	}

	c.Put("read_file", map[string]interface{}{"n": 2}, "0123456789", true) // exactly 10 bytes, allowed
	if c.Size() != 1 {
		t.Fatal("expected entry at the size cap to be inserted")
	}
}

func TestCache_NonCacheableToolNeverStored(t *testing.T) {
	c := New(time.Minute, 100, 0)

	c.Put("shell", map[string]interface{}{"cmd": "rm -rf /"}, "done", true)
	if c.Size() != 0 {
		t.Fatal("expected non-allowlisted tool to never be cached")
	}
	if _, hit := c.Get("shell", map[string]interface{}{"cmd": "rm -rf /"}); hit {
		t.Fatal("expected non-allowlisted tool to always miss")
	}
}

func TestCache_DifferentArgsDifferentKeys(t *testing.T) {
	c := New(time.Minute, 100, 0)

	c.Put("grep", map[string]interface{}{"pattern": "foo"}, "foo matches", true)
	c.Put("grep", map[string]interface{}{"pattern": "bar"}, "bar matches", true)

	res, hit := c.Get("grep", map[string]interface{}{"pattern": "foo"})
	if !hit || res.Output != "foo matches" {
		t.Fatalf("expected distinct cache entries per argument set")
	}
}

func TestCache_Clear(t *testing.T) {
	c := New(time.Minute, 100, 0)
	c.Put("read_file", map[string]interface{}{"n": 1}, "a", true)
	c.Clear()
	if c.Size() != 0 {
		t.Fatal("expected empty cache after Clear")
	}
}

func TestCache_InvalidatePathClearsAndCounts(t *testing.T) {
	c := New(time.Minute, 100, 0)
	c.Put("read_file", map[string]interface{}{"path": "a.go"}, "a", true)
	c.Put("grep", map[string]interface{}{"pattern": "x"}, "b", true)

	c.InvalidatePath("a.go")

	if c.Size() != 0 {
		t.Fatal("expected InvalidatePath to conservatively empty the whole cache")
	}
	if stats := c.Stats(); stats.Invalidation != 1 {
		t.Fatalf("expected 1 invalidation, got %d", stats.Invalidation)
	}
}

func TestCache_Stats(t *testing.T) {
	c := New(time.Minute, 100, 0)
	c.Put("read_file", map[string]interface{}{"n": 1}, "a", true)
	c.Get("read_file", map[string]interface{}{"n": 1})
	c.Get("read_file", map[string]interface{}{"n": 2})

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCache_DefaultsMatchSpec(t *testing.T) {
	c := New(0, 0, 0)
	if c.ttl != 300*time.Second {
		t.Fatalf("expected default TTL 300s, got %v", c.ttl)
	}
	if c.maxCount != 1000 {
		t.Fatalf("expected default max entries 1000, got %d", c.maxCount)
	}
	if c.maxBytes != 50<<20 {
		t.Fatalf("expected default max bytes 50 MiB, got %d", c.maxBytes)
	}
}

func TestCache_KeyLengthIs24Hex(t *testing.T) {
	key := makeKey("read_file", map[string]interface{}{"path": "a.go"})
	if len(key) != 24 {
		t.Fatalf("expected 24-char hex key, got %d chars: %q", len(key), key)
	}
}
