package store

import (
	"context"
	"time"
)

// KeyStore is the persistent (TTL-less) store for group key material.
type KeyStore interface {
	Put(ctx context.Context, relayerKeyID string, material KeyMaterial) error
	Get(ctx context.Context, relayerKeyID string) (KeyMaterial, bool, error)
}

// MpcSessionStore holds the single-use session records that chain
// authorize -> sign/init -> sign/finalize. Every take_* is an atomic
// get-and-delete: at most one caller ever observes a given id.
type MpcSessionStore interface {
	PutMpc(ctx context.Context, id string, rec MpcSession, ttl time.Duration) error
	TakeMpc(ctx context.Context, id string) (MpcSession, bool, error)

	PutSigning(ctx context.Context, id string, rec SigningSession, ttl time.Duration) error
	TakeSigning(ctx context.Context, id string) (SigningSession, bool, error)

	PutCoordinatorSigning(ctx context.Context, id string, rec CoordinatorSigningSession, ttl time.Duration) error
	TakeCoordinatorSigning(ctx context.Context, id string) (CoordinatorSigningSession, bool, error)
}

// AuthSessionStore holds multi-use authorization sessions with an atomic,
// race-free use budget.
type AuthSessionStore interface {
	PutSession(ctx context.Context, id string, rec AuthSession, opts AuthSessionOpts) error
	GetSession(ctx context.Context, id string) (AuthSession, bool, error)
	// ConsumeUse atomically decrements the remaining-use budget. ok is
	// false when the session is absent, expired, or the budget is
	// already exhausted.
	ConsumeUse(ctx context.Context, id string) (rec AuthSession, remainingUses int, ok bool, err error)
}
