// Package store is the in-memory entity store: the UI-facing snapshot of the
// signed-in owner's entities.
//
// CONSISTENCY MODEL:
// Every write is a whole-entity replace keyed by id (last-write-wins). The
// store does not care whether a value came from an optimistic mutation, a
// confirmed response or a push event; the most recently applied one wins.
// Partial updates must be merged by the caller before calling Upsert.
//
// Each collection is guarded by its own RWMutex, so a reader never observes
// a half-applied write. Nothing in this package blocks on I/O.
//
// WHY GENERICS?
// The six collections hold different row types but behave identically.
// Collection[T] is written once and each instantiation stays fully typed:
// Projects.Get returns a model.Project, no type assertion needed. Store
// still needs to route an untyped model.Change to the right collection, so
// every Collection also satisfies the small unexported slot interface.
//
// VERSION:
// Each collection counts the writes that changed it. Store.Version sums
// them, so a reader can tell "something changed" without diffing rows.
package store

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sakif/progress-tracker/internal/model"
)

// Collection is an ordered id -> entity map for one entity type.
//
// ORDER:
// List returns entities in insertion (or fetch) order. Upserting an existing
// id replaces the value in place and keeps its position; a new id is
// appended. ReplaceAll adopts the order of the slice it is given.
type Collection[T model.Entity] struct {
	mu    sync.RWMutex
	order []string
	items map[string]T
	clone func(T) T

	// version counts writes that changed the collection.
	version atomic.Uint64
}

// NewCollection creates an empty collection. clone may be nil for entity
// types that hold no reference fields.
func NewCollection[T model.Entity](clone func(T) T) *Collection[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Collection[T]{
		items: make(map[string]T),
		clone: clone,
	}
}

// Get returns the current value for id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.clone(v), true
}

// List returns every entity in order. The slice is a copy.
func (c *Collection[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.clone(c.items[id]))
	}
	return out
}

// Len returns the number of entities held.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Upsert writes v into the slot for v.EntityID(), overwriting every field.
func (c *Collection[T]) Upsert(v T) {
	id := v.EntityID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = c.clone(v)
	c.version.Add(1)
}

// Remove deletes id and returns the value it held. Removing an absent id is
// a no-op, which makes duplicate delete events harmless.
func (c *Collection[T]) Remove(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	delete(c.items, id)
	if i := slices.Index(c.order, id); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	c.version.Add(1)
	return v, true
}

// Index returns the position of id in List order, or -1.
func (c *Collection[T]) Index(id string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Index(c.order, id)
}

// Restore puts v back at position i, typically the position Index reported
// before a Remove that is now being undone. An id already present is
// replaced in place; i outside the list appends.
func (c *Collection[T]) Restore(i int, v T) {
	id := v.EntityID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[id]; !exists {
		if i < 0 || i > len(c.order) {
			i = len(c.order)
		}
		c.order = slices.Insert(c.order, i, id)
	}
	c.items[id] = c.clone(v)
	c.version.Add(1)
}

// Version increases on every write that changed the collection. Readers use
// it to tell whether anything moved since they last looked.
func (c *Collection[T]) Version() uint64 {
	return c.version.Load()
}

// ReplaceAll swaps the whole collection for vs, used on full refresh.
// Duplicate ids in vs collapse to the last occurrence at the first position.
func (c *Collection[T]) ReplaceAll(vs []T) {
	items := make(map[string]T, len(vs))
	order := make([]string, 0, len(vs))
	for _, v := range vs {
		id := v.EntityID()
		if _, seen := items[id]; !seen {
			order = append(order, id)
		}
		items[id] = c.clone(v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	c.order = order
	c.version.Add(1)
}

// First returns the first entity in order. Singleton collections (profile,
// stats) use it to read their only row.
func (c *Collection[T]) First() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.order) == 0 {
		var zero T
		return zero, false
	}
	return c.clone(c.items[c.order[0]]), true
}

// upsertEntity and removeEntity let Store dispatch untyped changes.
func (c *Collection[T]) upsertEntity(e model.Entity) bool {
	v, ok := e.(T)
	if !ok {
		return false
	}
	c.Upsert(v)
	return true
}

func (c *Collection[T]) getEntity(id string) (model.Entity, bool) {
	v, ok := c.Get(id)
	if !ok {
		return nil, false
	}
	return v, true
}

func (c *Collection[T]) removeID(id string) bool {
	_, ok := c.Remove(id)
	return ok
}

func (c *Collection[T]) versionOf() uint64 {
	return c.Version()
}

func (c *Collection[T]) clear() {
	c.ReplaceAll(nil)
}
