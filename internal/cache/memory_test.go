package cache

import (
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory(4, time.Minute)
	m.Set("k", []float64{1, 2, 3})

	vec, ok := m.Get("k")
	if !ok || len(vec) != 3 || vec[0] != 1 {
		t.Fatalf("got %v %v", vec, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("missing key reported present")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory(4, time.Millisecond)
	m.Set("k", []float64{1})
	time.Sleep(5 * time.Millisecond)
	if _, ok := m.Get("k"); ok {
		t.Error("expired entry still served")
	}
}

func TestMemory_LRUEviction(t *testing.T) {
	m := NewMemory(2, time.Minute)
	m.Set("a", []float64{1})
	m.Set("b", []float64{2})
	m.Get("a") // refresh a
	m.Set("c", []float64{3})

	if _, ok := m.Get("b"); ok {
		t.Error("least recently used entry not evicted")
	}
	if _, ok := m.Get("a"); !ok {
		t.Error("recently used entry evicted")
	}
	if m.Len() != 2 {
		t.Errorf("len = %d, want 2", m.Len())
	}
}

func TestMemory_Clear(t *testing.T) {
	m := NewMemory(4, time.Minute)
	m.Set("a", []float64{1})
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("len after clear = %d", m.Len())
	}
}
