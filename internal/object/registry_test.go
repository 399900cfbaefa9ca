package object

import (
	"testing"
)

func TestDupPutLeavesCountUnchanged(t *testing.T) {
	released := false
	r := New(42, func() { released = true }, nil)

	r.Dup()
	r.Put()

	if got := r.Refs(); got != 1 {
		t.Errorf("Refs() = %d, want 1", got)
	}
	if released {
		t.Error("release callback ran after dup+put, want still alive")
	}

	r.Put()
	if !released {
		t.Error("release callback did not run after final put")
	}
}

func TestReleaseRunsExactlyOnce(t *testing.T) {
	count := 0
	r := New("x", func() { count++ }, nil)
	r.Dup()
	r.Dup()
	r.Put()
	r.Put()
	r.Put()
	if count != 1 {
		t.Errorf("release ran %d times, want 1", count)
	}
}

func TestDupOnReleasedPanics(t *testing.T) {
	r := New(1, nil, nil)
	r.Put()
	defer func() {
		if recover() == nil {
			t.Error("Dup on released ref did not panic")
		}
	}()
	r.Dup()
}

func TestRegistryAddFindDel(t *testing.T) {
	reg := NewRegistry[string]("test")
	obj := New("hello", nil, nil)

	h := reg.Add(Hash("k1"), "k1", obj)
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}

	found, ok := reg.Find(true, Hash("k1"), "k1")
	if !ok {
		t.Fatal("Find() did not find entry")
	}
	if found.Get() != "hello" {
		t.Errorf("Get() = %q, want hello", found.Get())
	}
	if found.Refs() != 2 {
		t.Errorf("Refs() after bumped find = %d, want 2", found.Refs())
	}
	found.Put()

	reg.Del(h)
	if reg.Len() != 0 {
		t.Errorf("Len() after Del = %d, want 0", reg.Len())
	}
	if _, ok := reg.Find(false, Hash("k1"), "k1"); ok {
		t.Error("Find() found entry after Del")
	}
}

func TestRegistryIterateOrdered(t *testing.T) {
	reg := NewRegistry[int]("test")
	reg.Add(Hash("charlie"), "charlie", New(3, nil, nil))
	reg.Add(Hash("alpha"), "alpha", New(1, nil, nil))
	reg.Add(Hash("bravo"), "bravo", New(2, nil, nil))

	var keys []string
	reg.IterateOrdered(func(key string, obj *Ref[int]) bool {
		keys = append(keys, key)
		return true
	})

	want := []string{"alpha", "bravo", "charlie"}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], k)
		}
	}
}

func TestRegistryIterateStopsEarly(t *testing.T) {
	reg := NewRegistry[int]("test")
	for i := 0; i < 5; i++ {
		reg.Add(uint64(i), string(rune('a'+i)), New(i, nil, nil))
	}

	seen := 0
	reg.Iterate(func(key string, obj *Ref[int]) bool {
		seen++
		return seen < 2
	})
	if seen != 2 {
		t.Errorf("seen = %d, want 2", seen)
	}
}
