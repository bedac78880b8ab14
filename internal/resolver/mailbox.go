// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"context"
	"sync"
)

// task runs on the owner goroutine. ctx is the owner context.
type task func(ctx context.Context)

// mailbox is an unbounded FIFO of tasks drained by a single goroutine.
// post never blocks, so owner tasks may post to their own mailbox.
type mailbox struct {
	mu     sync.Mutex
	queue  []task
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// post enqueues t. It returns false once the mailbox is closed.
func (m *mailbox) post(t task) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, t)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// next pops the oldest task. It returns a nil task when the queue is empty,
// together with whether the mailbox has been closed.
func (m *mailbox) next() (task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, m.closed
	}
	t := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return t, m.closed
}

// close rejects further posts. Queued tasks remain for the final drain.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// ownerKey marks a context as running on a plugin's owner goroutine.
type ownerKey struct{}

func withOwner(ctx context.Context, p *Plugin) context.Context {
	return context.WithValue(ctx, ownerKey{}, p)
}

// ownedBy reports whether ctx is the owner context of p.
func ownedBy(ctx context.Context, p *Plugin) bool {
	if ctx == nil {
		return false
	}
	owner, ok := ctx.Value(ownerKey{}).(*Plugin)
	return ok && owner == p
}
