// Package stores holds the pieces shared by the derived state stores: an
// id-indexed ordered list and JSON helpers for their persisted slots.
package stores

import "errors"

var (
	// ErrNoOwner is returned when a session-scoped annotation is written
	// while no identity owns the store.
	ErrNoOwner = errors.New("store has no owning identity")

	// ErrOwnerChanged is returned when data fetched for one identity
	// arrives after another identity took over the store.
	ErrOwnerChanged = errors.New("store owner changed since the data was requested")

	// ErrExists is returned by Add for a duplicate id.
	ErrExists = errors.New("entry already exists")
)

// List is an insertion-ordered collection indexed by id. It is not safe for
// concurrent use; the owning store serialises access.
type List[T any] struct {
	items []T
	index map[string]int
	idOf  func(T) string
}

func NewList[T any](idOf func(T) string) *List[T] {
	return &List[T]{
		index: make(map[string]int),
		idOf:  idOf,
	}
}

// ReplaceAll swaps the whole content. Later duplicates win.
func (l *List[T]) ReplaceAll(items []T) {
	l.items = l.items[:0]
	l.index = make(map[string]int, len(items))
	for _, it := range items {
		id := l.idOf(it)
		if i, ok := l.index[id]; ok {
			l.items[i] = it
			continue
		}
		l.index[id] = len(l.items)
		l.items = append(l.items, it)
	}
}

func (l *List[T]) Add(item T) error {
	id := l.idOf(item)
	if _, ok := l.index[id]; ok {
		return ErrExists
	}
	l.index[id] = len(l.items)
	l.items = append(l.items, item)
	return nil
}

// Update applies fn to the entry with id. An fn that changes the id is
// rejected and the entry is left as it was.
func (l *List[T]) Update(id string, fn func(*T)) bool {
	i, ok := l.index[id]
	if !ok {
		return false
	}
	updated := l.items[i]
	fn(&updated)
	if l.idOf(updated) != id {
		return false
	}
	l.items[i] = updated
	return true
}

func (l *List[T]) Remove(id string) bool {
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	delete(l.index, id)
	for j := i; j < len(l.items); j++ {
		l.index[l.idOf(l.items[j])] = j
	}
	return true
}

func (l *List[T]) Get(id string) (T, bool) {
	i, ok := l.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return l.items[i], true
}

// All returns a copy in insertion order.
func (l *List[T]) All() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List[T]) Len() int {
	return len(l.items)
}

func (l *List[T]) Clear() {
	l.items = nil
	l.index = make(map[string]int)
}
