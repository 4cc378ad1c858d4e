package threads

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Locker serializes work on a single thread key.
type Locker interface {
	Lock(ctx context.Context, threadKey string) error
	Unlock(threadKey string)
}

// KeyLocker is an in-process Locker. Entries are reference counted and
// dropped once no goroutine holds or waits for the key.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyLocker creates an empty KeyLocker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until the key is free or ctx is done.
func (l *KeyLocker) Lock(ctx context.Context, threadKey string) error {
	if l == nil {
		return errors.New("thread locker unavailable")
	}
	if strings.TrimSpace(threadKey) == "" {
		return errors.New("thread key is required")
	}

	l.mu.Lock()
	lock, ok := l.locks[threadKey]
	if !ok {
		lock = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[threadKey] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(threadKey, lock)
		return ctx.Err()
	}
}

// Unlock releases the key. Unlocking a key that is not held is a no-op.
func (l *KeyLocker) Unlock(threadKey string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	lock, ok := l.locks[threadKey]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-lock.sem:
		l.release(threadKey, lock)
	default:
	}
}

func (l *KeyLocker) release(threadKey string, lock *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs <= 0 {
		delete(l.locks, threadKey)
	}
}

// held returns the number of keys currently tracked.
func (l *KeyLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
