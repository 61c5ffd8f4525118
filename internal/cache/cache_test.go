package cache

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New(0)
	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Errorf("Get() = %q, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss")
	}
}

func TestCache_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(time.Hour)
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	c.Set("b", "2")
	now = now.Add(2 * time.Hour)

	if _, ok := c.Get("a"); ok {
		t.Error("expired entry returned")
	}
	if removed := c.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestKey(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("keys must differ when parts are split differently")
	}
	if Key("title", "body") != Key("title", "body") {
		t.Error("Key must be deterministic")
	}
}
