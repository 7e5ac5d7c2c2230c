package ringbuf

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 3; i++ {
		if _, ok := b.Push(i); ok {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	ev, ok := b.Push(4)
	if !ok || ev != 1 {
		t.Fatalf("expected eviction of 1, got %d %v", ev, ok)
	}
	if diff := cmp.Diff([]int{2, 3, 4}, b.Items()); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if v, _ := b.At(0); v != 2 {
		t.Fatalf("At(0) = %d, want 2", v)
	}
	if _, ok := b.At(3); ok {
		t.Fatal("At out of range should fail")
	}
}

func TestBufferTail(t *testing.T) {
	b := New[string](4)
	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		b.Push(s)
	}
	if diff := cmp.Diff([]string{"e", "f"}, b.Tail(2)); diff != "" {
		t.Fatalf("tail mismatch: %s", diff)
	}
	if diff := cmp.Diff([]string{"c", "d", "e", "f"}, b.Tail(10)); diff != "" {
		t.Fatalf("tail clamp mismatch: %s", diff)
	}
	if got := b.Tail(0); len(got) != 0 {
		t.Fatalf("expected empty tail, got %v", got)
	}
}

func TestBufferMinCapacity(t *testing.T) {
	b := New[int](0)
	if b.Cap() != 1 {
		t.Fatalf("Cap = %d, want 1", b.Cap())
	}
	b.Push(1)
	b.Push(2)
	if diff := cmp.Diff([]int{2}, b.Items()); diff != "" {
		t.Fatalf("items mismatch: %s", diff)
	}
}
