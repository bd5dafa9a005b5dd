package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"recording-relay/internal/common/errors"
	"recording-relay/internal/config"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		l, err := New(ctx, &config.Config{LedgerType: "sqlite", LedgerPath: filepath.Join(t.TempDir(), "l.db")})
		require.NoError(t, err)
		defer l.Close()
		assert.IsType(t, &SQLiteLedger{}, l)
	})

	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		l, err := New(ctx, &config.Config{LedgerType: "redis", RedisAddress: mr.Addr()})
		require.NoError(t, err)
		defer l.Close()
		assert.IsType(t, &RedisLedger{}, l)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := New(ctx, &config.Config{LedgerType: "bolt"})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})
}
