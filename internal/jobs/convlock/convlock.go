// Package convlock serializes work on a single conversation across goroutines
// (Memory) or processes (Redis).
package convlock

import (
	"context"
	"errors"
	"sync"
)

var ErrNotAcquired = errors.New("convlock: lock not acquired")

type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type memoryEntry struct {
	ch   chan struct{}
	refs int
}

// Memory is a keyed mutex. Entries are dropped once no goroutine holds or waits
// on them.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*memoryEntry
}

func NewMemory() *Memory {
	return &Memory{locks: map[string]*memoryEntry{}}
}

func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &memoryEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.release(key, e)
		})
	}, nil
}

func (m *Memory) release(key string, e *memoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Noop never blocks.
type Noop struct{}

func (Noop) Lock(ctx context.Context, key string) (func(), error) { return func() {}, nil }
