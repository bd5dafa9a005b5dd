package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runLedgerSuite checks the claim contract against one backend.
func runLedgerSuite(t *testing.T, newLedger func(t *testing.T) Ledger) {
	ctx := context.Background()

	t.Run("claim twice yields true then false", func(t *testing.T) {
		l := newLedger(t)

		first, err := l.TryClaim(ctx, "rec-1")
		require.NoError(t, err)
		second, err := l.TryClaim(ctx, "rec-1")
		require.NoError(t, err)

		assert.True(t, first)
		assert.False(t, second)
	})

	t.Run("empty id rejected", func(t *testing.T) {
		l := newLedger(t)

		ok, err := l.TryClaim(ctx, "  ")
		assert.ErrorIs(t, err, ErrEmptyID)
		assert.False(t, ok)
	})

	t.Run("contains and count", func(t *testing.T) {
		l := newLedger(t)

		for i := 0; i < 3; i++ {
			_, err := l.TryClaim(ctx, fmt.Sprintf("id-%d", i))
			require.NoError(t, err)
		}

		found, err := l.Contains(ctx, "id-1")
		require.NoError(t, err)
		assert.True(t, found)

		found, err = l.Contains(ctx, "id-9")
		require.NoError(t, err)
		assert.False(t, found)

		n, err := l.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})

	t.Run("concurrent claims on one id have one winner", func(t *testing.T) {
		l := newLedger(t)

		var (
			wg   sync.WaitGroup
			wins int32
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := l.TryClaim(ctx, "contended")
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins)
	})

	t.Run("concurrent claims on distinct ids all win", func(t *testing.T) {
		l := newLedger(t)

		var (
			wg   sync.WaitGroup
			wins int32
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := l.TryClaim(ctx, fmt.Sprintf("distinct-%d", i))
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 20, wins)
	})
}

func TestSQLiteLedger(t *testing.T) {
	runLedgerSuite(t, func(t *testing.T) Ledger {
		l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestSQLiteLedger_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	l, err := NewSQLiteLedger(path)
	require.NoError(t, err)
	ok, err := l.TryClaim(ctx, "claimed-before-crash")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Close())

	reopened, err := NewSQLiteLedger(path)
	require.NoError(t, err)
	defer reopened.Close()

	ok, err = reopened.TryClaim(ctx, "claimed-before-crash")
	require.NoError(t, err)
	assert.False(t, ok, "claim must persist across restarts")
}

func TestNewSQLiteLedger_EmptyPath(t *testing.T) {
	_, err := NewSQLiteLedger("")
	assert.Error(t, err)
}

func TestRedisLedger(t *testing.T) {
	runLedgerSuite(t, func(t *testing.T) Ledger {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)

		l, err := NewRedisLedger(RedisConfig{Address: mr.Addr()})
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestRedisLedger_KeysHaveNoExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	l, err := NewRedisLedger(RedisConfig{Address: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	defer l.Close()

	_, err = l.TryClaim(context.Background(), "abc")
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:abc"))
	assert.Zero(t, mr.TTL("test:abc"))
}

func TestNewRedisLedger_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisLedger(RedisConfig{Address: addr})
	assert.Error(t, err)
}
