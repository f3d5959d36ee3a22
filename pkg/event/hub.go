// Package event provides a small listener registry whose registrations are
// released through subscription handles instead of function identity.
package event

import "sync"

// Subscription removes exactly one registration. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Hub fans values out to registered listeners.
// Listeners run on the emitting goroutine and may unsubscribe from inside
// the callback.
type Hub[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]func(T)
	order     []uint64
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{listeners: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns its handle.
func (h *Hub[T]) Subscribe(fn func(T)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.listeners[id] = fn
	h.order = append(h.order, id)

	return &subscription[T]{hub: h, id: id}
}

// Emit delivers v to a snapshot of the current listeners in registration
// order. A listener removed by an earlier callback in the same Emit is skipped.
func (h *Hub[T]) Emit(v T) int {
	h.mu.Lock()
	ids := make([]uint64, len(h.order))
	copy(ids, h.order)
	h.mu.Unlock()

	delivered := 0
	for _, id := range ids {
		h.mu.Lock()
		fn, ok := h.listeners[id]
		h.mu.Unlock()
		if !ok {
			continue
		}
		fn(v)
		delivered++
	}
	return delivered
}

// Len returns the number of live registrations.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.listeners[id]; !ok {
		return
	}
	delete(h.listeners, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

type subscription[T any] struct {
	hub  *Hub[T]
	id   uint64
	once sync.Once
}

func (s *subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}
