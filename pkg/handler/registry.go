package handler

import (
	"sync"

	"github.com/elliotchance/orderedmap/v2"
)

// Registry is an insertion-ordered map safe for concurrent use.
// Values are compared by identity in CompareAndRemove.
type Registry[K comparable, V comparable] struct {
	lock   sync.RWMutex
	items  *orderedmap.OrderedMap[K, V]
	sealed bool
}

func NewRegistry[K comparable, V comparable]() *Registry[K, V] {
	return &Registry[K, V]{
		items: orderedmap.NewOrderedMap[K, V](),
	}
}

// Insert adds value under key unless the key is taken or the registry is sealed.
func (r *Registry[K, V]) Insert(key K, value V) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.items.Get(key); ok {
		return ErrDuplicateKey
	}
	r.items.Set(key, value)
	return nil
}

func (r *Registry[K, V]) Lookup(key K) (V, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.items.Get(key)
}

// Remove deletes key if present. Removing an absent key is a no-op.
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	value, ok := r.items.Get(key)
	if ok {
		r.items.Delete(key)
	}
	return value, ok
}

// CompareAndRemove deletes key only while it still maps to value.
func (r *Registry[K, V]) CompareAndRemove(key K, value V) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	current, ok := r.items.Get(key)
	if !ok || current != value {
		return false
	}
	r.items.Delete(key)
	return true
}

func (r *Registry[K, V]) Contains(key K, value V) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	current, ok := r.items.Get(key)
	return ok && current == value
}

// Keys returns a snapshot of the keys in insertion order
func (r *Registry[K, V]) Keys() []K {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.items.Keys()
}

func (r *Registry[K, V]) Values() []V {
	r.lock.RLock()
	defer r.lock.RUnlock()

	values := make([]V, 0, r.items.Len())
	for el := r.items.Front(); el != nil; el = el.Next() {
		values = append(values, el.Value)
	}
	return values
}

func (r *Registry[K, V]) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.items.Len()
}

// Seal makes every later Insert fail. Removal keeps working.
func (r *Registry[K, V]) Seal() {
	r.lock.Lock()
	r.sealed = true
	r.lock.Unlock()
}
