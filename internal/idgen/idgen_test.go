package idgen

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestName(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		name, err := Name()
		if err != nil {
			t.Fatalf("Name() error: %v", err)
		}
		if len(name) != Length {
			t.Fatalf("len(%q) = %d, want %d", name, len(name), Length)
		}
		if strings.ContainsAny(name, "./\\") {
			t.Fatalf("name %q contains a path character", name)
		}
		if seen[name] {
			t.Fatalf("duplicate name %q", name)
		}
		seen[name] = true
	}
}

func TestSequence_SameTick(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	s := &Sequence{now: func() time.Time { return fixed }}

	a, _ := s.Next()
	b, _ := s.Next()
	c, _ := s.Next()
	if a != fixed.UnixMilli() {
		t.Errorf("first id = %d, want %d", a, fixed.UnixMilli())
	}
	if b != a+1 || c != b+1 {
		t.Errorf("ids = %d, %d, %d; want consecutive", a, b, c)
	}
}

func TestSequence_Observe(t *testing.T) {
	fixed := time.UnixMilli(1000)
	s := &Sequence{now: func() time.Time { return fixed }}
	s.Observe(5000)

	id, _ := s.Next()
	if id != 5001 {
		t.Errorf("id after Observe(5000) = %d, want 5001", id)
	}

	s.Observe(10) // older ids never move the sequence back
	id, _ = s.Next()
	if id != 5002 {
		t.Errorf("id = %d, want 5002", id)
	}
}

func TestSequence_ConcurrentUnique(t *testing.T) {
	s := NewSequence()
	const workers, per = 8, 200

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id, _ := s.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*per {
		t.Fatalf("got %d unique ids, want %d", len(seen), workers*per)
	}
}
