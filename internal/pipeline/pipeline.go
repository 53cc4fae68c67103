package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot handoff between a fast producer and a slower
// consumer. Put never blocks: a value that has not been taken yet is
// replaced and counted as dropped, so the consumer always gets the newest.
type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  T
	full   bool
	closed bool

	drops atomic.Uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put stores v, overwriting any value not taken yet.
func (m *Mailbox[T]) Put(v T) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.full {
		m.drops.Add(1)
	}
	m.value = v
	m.full = true
	m.cond.Signal()
	m.mu.Unlock()
}

// Take blocks until a value is available, the mailbox is closed, or ctx is
// done. ok is false in the latter two cases.
func (m *Mailbox[T]) Take(ctx context.Context) (v T, ok bool) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.full && !m.closed && ctx.Err() == nil {
		m.cond.Wait()
	}
	if !m.full {
		return v, false
	}

	v = m.value
	var zero T
	m.value = zero
	m.full = false
	return v, true
}

// Close wakes any waiting consumer. Values put afterwards are discarded.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Drops returns how many values were overwritten before being taken.
func (m *Mailbox[T]) Drops() uint64 {
	return m.drops.Load()
}
