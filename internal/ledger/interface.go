// Package ledger records which recordings have already been claimed so each
// one is downloaded at most once, across restarts.
//
// A claim is durable when TryClaim returns true. Claims are never removed:
// an item claimed before a crash is not fetched again even if its download
// never completed.
//
// Backends:
//
//   - sqlite: a local file, INSERT OR IGNORE in WAL mode (default)
//   - redis: SETNX without expiry, durability follows the server's AOF/RDB policy
//   - postgres: INSERT ... ON CONFLICT DO NOTHING
package ledger

import (
	"context"
	"errors"
	"strings"
)

// Ledger is a durable set of claimed recording ids
type Ledger interface {
	// TryClaim records id and returns true iff it was not recorded before.
	// Concurrent calls for the same id have exactly one winner.
	TryClaim(ctx context.Context, id string) (bool, error)

	// Contains reports whether id has been claimed
	Contains(ctx context.Context, id string) (bool, error)

	// Count returns the number of claims
	Count(ctx context.Context) (int64, error)

	Close() error
}

// ErrEmptyID is returned when claiming a blank id
var ErrEmptyID = errors.New("ledger: empty recording id")

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	return nil
}
