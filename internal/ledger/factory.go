package ledger

import (
	"context"
	"fmt"

	"recording-relay/internal/common/errors"
	"recording-relay/internal/config"
)

// New creates the ledger backend selected by cfg.LedgerType
func New(ctx context.Context, cfg *config.Config) (Ledger, error) {
	switch cfg.LedgerType {
	case "sqlite", "":
		return NewSQLiteLedger(cfg.LedgerPath)

	case "redis":
		return NewRedisLedger(RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

	case "postgres":
		return NewPostgresLedger(ctx, cfg.PostgresDSN())

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported ledger type: %s", cfg.LedgerType))
	}
}
