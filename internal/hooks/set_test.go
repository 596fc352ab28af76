package hooks

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRemoveOnlySet_DedupsAndKeepsOrder(t *testing.T) {
	s := NewRemoveOnlySet([]string{"b", "a", "b", "c", "a"})

	if diff := cmp.Diff([]string{"b", "a", "c"}, s.Items()); diff != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", diff)
	}
	if s.Len() != 3 {
		t.Fatalf("expected len 3, got %d", s.Len())
	}
}

func TestRemoveOnlySet_Remove(t *testing.T) {
	s := NewRemoveOnlySet([]string{"a", "b", "c"})

	if !s.Remove("b") {
		t.Fatalf("expected b to be removed")
	}
	if s.Remove("b") {
		t.Fatalf("expected second remove of b to report false")
	}
	if s.Contains("b") {
		t.Fatalf("expected b to be gone")
	}
	if diff := cmp.Diff([]string{"a", "c"}, s.Items()); diff != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", diff)
	}
}

func TestRemoveOnlySet_RemoveIfAndClear(t *testing.T) {
	s := NewRemoveOnlySet([]int{1, 2, 3, 4, 5})

	removed := s.RemoveIf(func(n int) bool { return n%2 == 0 })
	if diff := cmp.Diff([]int{2, 4}, removed); diff != "" {
		t.Fatalf("unexpected removed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 3, 5}, s.Items()); diff != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", diff)
	}
	if s.Contains(2) || !s.Contains(3) {
		t.Fatalf("membership out of sync with items")
	}

	s.Clear()
	if s.Len() != 0 || s.Contains(1) {
		t.Fatalf("expected empty set after Clear")
	}
}

func TestRemoveOnlySet_ItemsIsACopy(t *testing.T) {
	s := NewRemoveOnlySet([]string{"a", "b"})
	items := s.Items()
	items[0] = "z"

	if !s.Contains("a") || s.Items()[0] != "a" {
		t.Fatalf("mutating Items result must not affect the set")
	}
}
