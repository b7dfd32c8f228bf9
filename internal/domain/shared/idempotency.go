package shared

import (
	"context"
	"time"
)

// IdempotencyStore stores processed transaction IDs to prevent duplicate rating
type IdempotencyStore interface {
	// MarkProcessed marks a transaction as processed with a TTL
	// Returns true if the transaction was newly marked, false if it was already processed
	MarkProcessed(ctx context.Context, transactionID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a transaction has already been processed
	IsProcessed(ctx context.Context, transactionID string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is the time-to-live for processed transaction IDs in the fast-path
	// store. The persistence layer's unique constraint remains the source of
	// truth after expiry.
	TTL time.Duration

	// Enabled determines whether the fast-path idempotency check is enabled
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
