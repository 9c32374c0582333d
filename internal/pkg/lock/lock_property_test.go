// Property-based tests for per-key serialization.
package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestSerializedReadModifyWriteProperty tests that concurrent
// read-modify-write sequences on the same key behave like sequential ones.
func TestSerializedReadModifyWriteProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(0, 100000).Draw(t, "initial")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		deltas := make([]int64, numOps)
		expected := initial
		for i := range deltas {
			deltas[i] = rapid.Int64Range(-500, 500).Draw(t, "delta")
			expected += deltas[i]
		}

		key := rapid.Int64Range(1, 1000000).Draw(t, "key")
		kl := NewKeyLock()
		value := initial

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, d := range deltas {
			go func(delta int64) {
				defer wg.Done()
				kl.Lock(key)
				defer kl.Unlock(key)
				current := value
				value = current + delta
			}(d)
		}
		wg.Wait()

		if value != expected {
			t.Fatalf("value mismatch: expected %d, got %d (initial=%d, numOps=%d)", expected, value, initial, numOps)
		}
		if kl.size() != 0 {
			t.Fatalf("expected no tracked keys after all unlocks, got %d", kl.size())
		}
	})
}

// TestSingleWinnerProperty tests that when many goroutines race to complete
// the same record under WithLockContext, exactly one observes it incomplete.
func TestSingleWinnerProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numRacers := rapid.IntRange(2, 30).Draw(t, "numRacers")
		key := rapid.Int64Range(1, 1000000).Draw(t, "key")

		kl := NewKeyLock()
		completed := false
		var winners atomic.Int32

		var wg sync.WaitGroup
		wg.Add(numRacers)
		for i := 0; i < numRacers; i++ {
			go func() {
				defer wg.Done()
				_ = kl.WithLockContext(context.Background(), key, func() error {
					if !completed {
						completed = true
						winners.Add(1)
					}
					return nil
				})
			}()
		}
		wg.Wait()

		if winners.Load() != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners.Load())
		}
	})
}

// TestIndependentKeysProperty tests that holding one key never blocks another.
func TestIndependentKeysProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(1, 1000).Draw(t, "a")
		b := rapid.Int64Range(1001, 2000).Draw(t, "b")

		kl := NewKeyLock()
		kl.Lock(a)
		defer kl.Unlock(a)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := kl.LockContext(ctx, b); err != nil {
			t.Fatalf("key %d blocked while only key %d is held: %v", b, a, err)
		}
		kl.Unlock(b)
	})
}

func TestUnlock_ReleasesKey(t *testing.T) {
	kl := NewKeyLock()

	kl.Lock(1)
	kl.Lock(2)
	assert.Equal(t, 2, kl.size())

	kl.Unlock(1)
	assert.Equal(t, 1, kl.size())
	kl.Unlock(2)
	assert.Equal(t, 0, kl.size())
}

func TestLockContext_Timeout(t *testing.T) {
	kl := NewKeyLock()
	kl.Lock(7)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := kl.WithLockContext(ctx, 7, func() error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	kl.Unlock(7)

	// The abandoned waiter hands the lock back once it gets it.
	assert.Eventually(t, func() bool { return kl.size() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, kl.WithLockContext(context.Background(), 7, func() error { return nil }))
}

func TestUnlock_UnknownKeyPanics(t *testing.T) {
	kl := NewKeyLock()
	assert.Panics(t, func() { kl.Unlock(42) })
}
