package handlers

import "sync"

// mailbox is an unbounded FIFO. push never blocks; a single consumer waits on
// signal and drains everything queued so far.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	closed bool
}

func newMailbox[T any](capacity int) *mailbox[T] {
	return &mailbox[T]{
		items:  make([]T, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

func (m *mailbox[T]) push(item T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, item)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox[T]) drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil
	}
	items := m.items
	m.items = make([]T, 0, cap(items))
	return items
}

// close drops anything still queued and rejects further pushes.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
}
