package hooks

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// RemoveOnlySet is an ordered collection that can be inspected and shrunk
// but never grown. Hooks receive candidates, triggers and matches through it,
// so no hook can add anything back.
type RemoveOnlySet[T comparable] struct {
	items   []T
	members sets.Set[T]
}

// NewRemoveOnlySet copies items, dropping duplicates and keeping first
// occurrences in order.
func NewRemoveOnlySet[T comparable](items []T) *RemoveOnlySet[T] {
	s := &RemoveOnlySet[T]{
		items:   make([]T, 0, len(items)),
		members: sets.New[T](),
	}
	for _, item := range items {
		if s.members.Has(item) {
			continue
		}
		s.members.Insert(item)
		s.items = append(s.items, item)
	}
	return s
}

func (s *RemoveOnlySet[T]) Len() int {
	return len(s.items)
}

func (s *RemoveOnlySet[T]) Contains(item T) bool {
	return s.members.Has(item)
}

// Items returns a copy of the remaining items in order.
func (s *RemoveOnlySet[T]) Items() []T {
	return append([]T(nil), s.items...)
}

// Remove drops item and reports whether it was present.
func (s *RemoveOnlySet[T]) Remove(item T) bool {
	if !s.members.Has(item) {
		return false
	}
	s.members.Delete(item)
	for i, existing := range s.items {
		if existing == item {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return true
}

// RemoveIf drops every item pred holds for and returns them.
func (s *RemoveOnlySet[T]) RemoveIf(pred func(T) bool) []T {
	var removed []T
	kept := s.items[:0]
	for _, item := range s.items {
		if pred(item) {
			removed = append(removed, item)
			s.members.Delete(item)
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	return removed
}

// Clear drops every item.
func (s *RemoveOnlySet[T]) Clear() {
	s.items = s.items[:0]
	s.members = sets.New[T]()
}
