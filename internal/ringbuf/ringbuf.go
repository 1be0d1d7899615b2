// Package ringbuf provides fixed-capacity newest-first containers used for
// rolling histories (bars, settlement records, recent account versions).
// Both containers are single-producer; callers guard concurrent access.
package ringbuf

// RingBuffer holds the most recent Capacity items, newest at index 0.
type RingBuffer[T any] struct {
	items    []T
	capacity int
}

func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push inserts at the front. When the buffer is full the oldest item is
// evicted first.
func (r *RingBuffer[T]) Push(t T) {
	if len(r.items) == r.capacity {
		r.items = r.items[:len(r.items)-1]
	}
	r.items = append([]T{t}, r.items...)
}

func (r *RingBuffer[T]) Len() int {
	return len(r.items)
}

func (r *RingBuffer[T]) Cap() int {
	return r.capacity
}

func (r *RingBuffer[T]) Full() bool {
	return len(r.items) == r.capacity
}

func (r *RingBuffer[T]) Empty() bool {
	return len(r.items) == 0
}

// Newest returns the most recently pushed item.
func (r *RingBuffer[T]) Newest() (T, bool) {
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	return r.items[0], true
}

// Oldest returns the least recently pushed item still held.
func (r *RingBuffer[T]) Oldest() (T, bool) {
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	return r.items[len(r.items)-1], true
}

// Take drains the buffer, returning items oldest-first.
func (r *RingBuffer[T]) Take() []T {
	out := make([]T, len(r.items))
	for i, item := range r.items {
		out[len(r.items)-1-i] = item
	}
	r.items = r.items[:0]
	return out
}

// Vec copies the contents oldest-first without draining.
func (r *RingBuffer[T]) Vec() []T {
	out := make([]T, len(r.items))
	for i, item := range r.items {
		out[len(r.items)-1-i] = item
	}
	return out
}

// RevVec copies the contents newest-first without draining.
func (r *RingBuffer[T]) RevVec() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Find scans newest-first and returns the first item matching pred.
func (r *RingBuffer[T]) Find(pred func(T) bool) (T, bool) {
	for _, item := range r.items {
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// RingMap is an insertion-ordered map bounded at Capacity entries. Inserting
// an existing key replaces its value in place; inserting a new key into a
// full map evicts the oldest entry.
type RingMap[K comparable, V any] struct {
	keys     []K
	values   map[K]V
	capacity int
}

func NewRingMap[K comparable, V any](capacity int) *RingMap[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingMap[K, V]{
		keys:     make([]K, 0, capacity),
		values:   make(map[K]V, capacity),
		capacity: capacity,
	}
}

func (r *RingMap[K, V]) Insert(key K, value V) {
	if _, ok := r.values[key]; ok {
		r.values[key] = value
		return
	}
	if len(r.keys) == r.capacity {
		oldest := r.keys[0]
		r.keys = r.keys[1:]
		delete(r.values, oldest)
	}
	r.keys = append(r.keys, key)
	r.values[key] = value
}

func (r *RingMap[K, V]) Get(key K) (V, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *RingMap[K, V]) Len() int {
	return len(r.keys)
}

// Newest returns the most recently inserted key and its value.
func (r *RingMap[K, V]) Newest() (K, V, bool) {
	var zk K
	var zv V
	if len(r.keys) == 0 {
		return zk, zv, false
	}
	k := r.keys[len(r.keys)-1]
	return k, r.values[k], true
}

// Oldest returns the least recently inserted key and its value.
func (r *RingMap[K, V]) Oldest() (K, V, bool) {
	var zk K
	var zv V
	if len(r.keys) == 0 {
		return zk, zv, false
	}
	k := r.keys[0]
	return k, r.values[k], true
}

// Keys returns the keys in insertion order, oldest first.
func (r *RingMap[K, V]) Keys() []K {
	out := make([]K, len(r.keys))
	copy(out, r.keys)
	return out
}

// Values returns the values in insertion order, oldest first.
func (r *RingMap[K, V]) Values() []V {
	out := make([]V, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.values[k])
	}
	return out
}
