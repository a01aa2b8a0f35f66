package registry

import (
	"errors"
	"sync"
)

// ErrDuplicate is returned by Register when the id is already present.
var ErrDuplicate = errors.New("registry: duplicate connection id")

// Sender is anything that can accept an outbound payload without blocking.
// Send reports whether the payload was queued; a false return means it was
// dropped.
type Sender interface {
	Send(payload []byte) bool
}

// Registry maps connection ids to per-connection records. It owns the record
// lifecycle: a record exists from Register until Unregister. Iteration order
// follows registration order so broadcasts are deterministic.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		items: make(map[string]T),
	}
}

// Register stores v under id.
func (r *Registry[T]) Register(id string, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; ok {
		return ErrDuplicate
	}
	r.items[id] = v
	r.order = append(r.order, id)
	return nil
}

// Lookup returns the record for id.
func (r *Registry[T]) Lookup(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.items[id]
	return v, ok
}

// Unregister removes and returns the record for id. Only that entry is
// touched.
func (r *Registry[T]) Unregister(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.items[id]
	if !ok {
		return v, false
	}
	delete(r.items, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return v, true
}

// Len returns the number of registered records.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Each calls fn for every record in registration order. fn runs on a
// snapshot taken under the read lock, so it may call Register or Unregister.
func (r *Registry[T]) Each(fn func(id string, v T)) {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	vals := make([]T, len(ids))
	for i, id := range ids {
		vals[i] = r.items[id]
	}
	r.mu.RUnlock()

	for i, id := range ids {
		fn(id, vals[i])
	}
}

// Count returns the number of records for which match returns true.
func (r *Registry[T]) Count(match func(v T) bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, v := range r.items {
		if match(v) {
			n++
		}
	}
	return n
}

// Broadcast sends payload to every registered record except the one
// registered under except (pass "" to reach everyone). Sends are
// best-effort; the return value counts payloads that were queued.
func Broadcast[T Sender](r *Registry[T], payload []byte, except string) int {
	delivered := 0
	r.Each(func(id string, v T) {
		if id == except {
			return
		}
		if v.Send(payload) {
			delivered++
		}
	})
	return delivered
}
