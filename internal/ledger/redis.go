package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "recording-relay:claim:"

// RedisConfig configures the Redis ledger
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisLedger stores each claim as a key set with SETNX
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLedger connects to Redis and verifies the connection
func NewRedisLedger(config RedisConfig) (*RedisLedger, error) {
	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultRedisPrefix
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLedger{rdb: rdb, prefix: config.KeyPrefix}, nil
}

func (l *RedisLedger) key(id string) string {
	return l.prefix + id
}

func (l *RedisLedger) TryClaim(ctx context.Context, id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}

	ok, err := l.rdb.SetNX(ctx, l.key(id), time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return ok, nil
}

func (l *RedisLedger) Contains(ctx context.Context, id string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.key(id)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Count scans the claim keyspace; it is meant for status output, not hot paths.
func (l *RedisLedger) Count(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, l.prefix+"*", 500).Result()
		if err != nil {
			return 0, err
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func (l *RedisLedger) Close() error {
	return l.rdb.Close()
}
