// Package keylock hands out one exclusive lock per key. The execution
// coordinator and every other writer of a payment target's status share a
// table so their updates never interleave with an in-flight transfer.
package keylock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Key names the lock of a payment target.
func Key(kind, id string) string {
	return kind + ":" + id
}

// Table maps keys to locks. Entries are reference counted and dropped once
// nobody holds or waits for them.
type Table struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func New() *Table {
	return &Table{locks: make(map[string]*keyLock)}
}

// Acquire blocks until the lock for key is held or ctx ends. The returned
// function releases it. Locks are not reentrant.
func (t *Table) Acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		t.drop(key, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		t.drop(key, l)
	}, nil
}

// Len reports how many keys are held or waited on.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func (t *Table) drop(key string, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}
