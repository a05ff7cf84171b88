package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestConcurrentReadModifyWriteProperty: concurrent read-modify-write under the
// lock yields the same total as sequential execution.
func TestConcurrentReadModifyWriteProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(1000, 100000).Draw(t, "initial")
		amounts := rapid.SliceOfN(rapid.Int64Range(-500, 500), 2, 20).Draw(t, "amounts")
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		expected := initial
		for _, a := range amounts {
			expected += a
		}

		ul := NewUserLock()
		balance := initial

		var wg sync.WaitGroup
		wg.Add(len(amounts))
		for _, a := range amounts {
			go func(amount int64) {
				defer wg.Done()
				_ = ul.WithLock(context.Background(), userID, func() error {
					current := balance
					balance = current + amount
					return nil
				})
			}(a)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("balance mismatch: expected %d, got %d", expected, balance)
		}
		if ul.Tracked() != 0 {
			t.Fatalf("lock entries leaked: %d", ul.Tracked())
		}
	})
}

// TestDifferentUsersDoNotBlockProperty: holding one user's lock never blocks another user.
func TestDifferentUsersDoNotBlockProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(1, 1000).Draw(t, "a")
		b := rapid.Int64Range(1001, 2000).Draw(t, "b")

		ul := NewUserLock()
		releaseA, err := ul.Lock(context.Background(), a)
		if err != nil {
			t.Fatalf("lock a: %v", err)
		}
		defer releaseA()

		releaseB, ok := ul.TryLock(b)
		if !ok {
			t.Fatalf("user %d blocked by user %d", b, a)
		}
		releaseB()
	})
}

func TestLock_ContextCancelled(t *testing.T) {
	ul := NewUserLock()
	release, err := ul.Lock(context.Background(), 7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = ul.Lock(ctx, 7)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	release()
	release() // second call is a no-op
	assert.False(t, ul.IsLocked(7))
	assert.Equal(t, 0, ul.Tracked())
}

func TestTryLock(t *testing.T) {
	ul := NewUserLock()

	release, ok := ul.TryLock(1)
	require.True(t, ok)
	assert.True(t, ul.IsLocked(1))

	_, ok = ul.TryLock(1)
	assert.False(t, ok)

	release()
	assert.False(t, ul.IsLocked(1))
}

func TestWithLock_PropagatesError(t *testing.T) {
	ul := NewUserLock()
	boom := errors.New("boom")
	err := ul.WithLock(context.Background(), 3, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, ul.IsLocked(3))
}
