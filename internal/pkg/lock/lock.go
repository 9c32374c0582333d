// Package lock provides per-key locking for read-modify-write sequences on a
// single record, such as the reveal of one game.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// keyMutex wraps a mutex with reference counting for cleanup.
type keyMutex struct {
	mu       sync.Mutex
	refCount int
}

// KeyLock serializes work per int64 key. Entries are removed once no
// goroutine holds or waits for them, so the map only grows with contention.
type KeyLock struct {
	mu    sync.Mutex
	locks map[int64]*keyMutex
}

// NewKeyLock creates a new KeyLock instance.
func NewKeyLock() *KeyLock {
	return &KeyLock{
		locks: make(map[int64]*keyMutex),
	}
}

// acquire returns the mutex for key and registers the caller on it.
func (kl *KeyLock) acquire(key int64) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[key]
	if !ok {
		m = &keyMutex{}
		kl.locks[key] = m
	}
	m.refCount++
	return m
}

// release drops the caller's registration and forgets the mutex when unused.
func (kl *KeyLock) release(key int64, m *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m.refCount--
	if m.refCount == 0 {
		delete(kl.locks, key)
	}
}

// Lock acquires the lock for key, blocking until it is available.
func (kl *KeyLock) Lock(key int64) {
	m := kl.acquire(key)
	m.mu.Lock()
}

// Unlock releases the lock for key. It must be paired with a successful
// Lock or LockContext.
func (kl *KeyLock) Unlock(key int64) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("lock: unlock of unlocked key %d", key))
	}

	m.mu.Unlock()
	kl.release(key, m)
}

// LockContext acquires the lock for key unless ctx is done first.
func (kl *KeyLock) LockContext(ctx context.Context, key int64) error {
	m := kl.acquire(key)

	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The waiter still takes the lock eventually; hand it straight back.
		go func() {
			<-done
			m.mu.Unlock()
			kl.release(key, m)
		}()
		return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	}
}

// WithLockContext executes fn while holding the lock for key, giving up if
// ctx is done before the lock is acquired.
func (kl *KeyLock) WithLockContext(ctx context.Context, key int64, fn func() error) error {
	if err := kl.LockContext(ctx, key); err != nil {
		return err
	}
	defer kl.Unlock(key)
	return fn()
}

// size returns the number of keys currently tracked.
func (kl *KeyLock) size() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
