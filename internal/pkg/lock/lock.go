// Package lock provides per-user mutual exclusion for in-process stores.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// userMutex is a one-slot semaphore shared by everyone waiting on the same user.
type userMutex struct {
	ch   chan struct{}
	refs int // holders plus waiters
}

// UserLock serializes work per user. Different users never contend.
type UserLock struct {
	mu    sync.Mutex
	locks map[int64]*userMutex
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{locks: make(map[int64]*userMutex)}
}

func (ul *UserLock) ref(userID int64) *userMutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m, ok := ul.locks[userID]
	if !ok {
		m = &userMutex{ch: make(chan struct{}, 1)}
		ul.locks[userID] = m
	}
	m.refs++
	return m
}

func (ul *UserLock) unref(userID int64, m *userMutex) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(ul.locks, userID)
	}
}

// Lock blocks until the user's lock is held or ctx is done.
// The returned func releases the lock and must be called exactly once.
func (ul *UserLock) Lock(ctx context.Context, userID int64) (func(), error) {
	m := ul.ref(userID)

	select {
	case m.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-m.ch
				ul.unref(userID, m)
			})
		}, nil
	case <-ctx.Done():
		ul.unref(userID, m)
		return nil, fmt.Errorf("%w: user %d: %w", ErrLockTimeout, userID, ctx.Err())
	}
}

// TryLock acquires the lock only if it is free.
func (ul *UserLock) TryLock(userID int64) (func(), bool) {
	m := ul.ref(userID)

	select {
	case m.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-m.ch
				ul.unref(userID, m)
			})
		}, true
	default:
		ul.unref(userID, m)
		return nil, false
	}
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(ctx context.Context, userID int64, fn func() error) error {
	release, err := ul.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// IsLocked reports whether someone holds the user's lock right now.
func (ul *UserLock) IsLocked(userID int64) bool {
	ul.mu.Lock()
	m, ok := ul.locks[userID]
	ul.mu.Unlock()
	if !ok {
		return false
	}
	return len(m.ch) == 1
}

// Tracked returns how many users currently have a lock entry.
func (ul *UserLock) Tracked() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.locks)
}
