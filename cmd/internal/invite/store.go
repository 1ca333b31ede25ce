package invite

import (
	"context"
	"time"
)

// CreateRecord is a normalized code insert payload.
type CreateRecord struct {
	ID        string
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Note      *string
}

// ConsumeRecord binds a code to the email that redeemed it.
type ConsumeRecord struct {
	ID    string
	Email string
	Now   time.Time
}

// Store is the persistence boundary for redemption codes.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Code, error)
	Get(ctx context.Context, id string) (Code, error)
	GetByHash(ctx context.Context, codeHash string) (Code, error)
	// Consume marks the code used by Email. Consuming again with the same
	// email returns the code unchanged.
	Consume(ctx context.Context, in ConsumeRecord) (Code, error)
	// Revoke blocks an unconsumed code. Revoking twice keeps the first time.
	Revoke(ctx context.Context, id string, now time.Time) (Code, error)
}
