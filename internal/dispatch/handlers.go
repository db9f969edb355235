package dispatch

import (
	"sync"
	"sync/atomic"
)

// Handler receives one notification. A returned error is logged and does not
// affect other handlers, unless it is a consistency error.
type Handler[E any] func(E) error

type entry[E any] struct {
	id uint64
	fn Handler[E]
}

// Handlers owns a subscriber list. Writers copy the list; Snapshot never blocks.
type Handlers[E any] struct {
	mu     sync.Mutex
	nextID uint64
	list   atomic.Pointer[[]entry[E]]
}

// Subscribe appends fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (h *Handlers[E]) Subscribe(fn Handler[E]) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	cur := h.load()
	next := make([]entry[E], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, entry[E]{id: id, fn: fn})
	h.list.Store(&next)

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Handlers[E]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := h.load()
	next := make([]entry[E], 0, len(cur))
	for _, e := range cur {
		if e.id != id {
			next = append(next, e)
		}
	}
	h.list.Store(&next)
}

// Snapshot returns the handlers in registration order.
func (h *Handlers[E]) Snapshot() []Handler[E] {
	cur := h.load()
	out := make([]Handler[E], len(cur))
	for i, e := range cur {
		out[i] = e.fn
	}
	return out
}

// Len returns the number of current subscribers.
func (h *Handlers[E]) Len() int {
	return len(h.load())
}

func (h *Handlers[E]) load() []entry[E] {
	if p := h.list.Load(); p != nil {
		return *p
	}
	return nil
}
