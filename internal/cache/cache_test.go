package cache

import (
	"testing"
	"time"
)

func TestLRUCache_GetSetEvict(t *testing.T) {
	c := NewLRUCache[int64](2, time.Minute)

	c.Set("mia", 1)
	c.Set("leo", 2)
	if _, ok := c.Get("mia"); !ok {
		t.Fatal("mia should be cached")
	}
	// leo is now least recently used
	c.Set("ada", 3)

	if _, ok := c.Get("leo"); ok {
		t.Error("leo should have been evicted")
	}
	if v, ok := c.Get("mia"); !ok || v != 1 {
		t.Errorf("Get(mia) = %d, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}

	c.Delete("mia")
	if _, ok := c.Get("mia"); ok {
		t.Error("mia should be deleted")
	}

	st := c.Stats()
	if st.Hits != 2 || st.Misses != 2 {
		t.Errorf("Stats = %+v, want 2 hits 2 misses", st)
	}
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Date(2026, 10, 23, 7, 30, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", "x")
	c.Set("b", "y")
	now = now.Add(30 * time.Second)
	c.Set("b", "z") // refreshes b

	now = now.Add(45 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if v, ok := c.Get("b"); !ok || v != "z" {
		t.Errorf("Get(b) = %q, %v", v, ok)
	}

	now = now.Add(time.Minute)
	if removed := c.CleanExpired(); removed != 1 {
		t.Errorf("CleanExpired() = %d, want 1", removed)
	}
}

func TestLRUCache_Add(t *testing.T) {
	now := time.Date(2026, 10, 23, 7, 30, 0, 0, time.UTC)
	c := NewLRUCache[struct{}](10, time.Minute)
	c.now = func() time.Time { return now }

	if !c.Add("evt-1", struct{}{}) {
		t.Fatal("first Add should store")
	}
	if c.Add("evt-1", struct{}{}) {
		t.Fatal("second Add should report a duplicate")
	}
	now = now.Add(2 * time.Minute)
	if !c.Add("evt-1", struct{}{}) {
		t.Fatal("Add after expiry should store again")
	}

	c.Purge()
	if c.Size() != 0 {
		t.Errorf("Size() after Purge = %d", c.Size())
	}
}

func TestManager(t *testing.T) {
	now := time.Date(2026, 10, 23, 7, 30, 0, 0, time.UTC)
	a := NewLRUCache[int](10, time.Second)
	a.now = func() time.Time { return now }
	a.Set("k", 1)

	m := NewManager()
	m.Register(a)
	m.StartCleanup(time.Hour)

	now = now.Add(2 * time.Second)
	if n := m.CleanNow(); n != 1 {
		t.Errorf("CleanNow() = %d, want 1", n)
	}
	m.Stop()
	m.Stop()

	unstarted := NewManager()
	unstarted.Stop()
}
