package repository

import (
	"context"
	"time"

	"github.com/tracknest/tracknest-auth/internal/domain"
)

// PrincipalRepository exposes persistence for identities.
type PrincipalRepository interface {
	GetByID(ctx context.Context, principalID int64) (domain.Principal, error)
	GetByEmail(ctx context.Context, email string) (domain.Principal, error)
	Create(ctx context.Context, principal domain.Principal) (domain.Principal, error)
}

// KeyRepository stores signing key records per (principal, purpose).
// CreateKey must revoke the currently active record for the same pair
// and insert the new one in a single atomic step, so that concurrent
// issuances leave exactly one active record.
type KeyRepository interface {
	GetActiveKey(ctx context.Context, principalID int64, purpose domain.KeyPurpose) (domain.KeyRecord, error)
	CreateKey(ctx context.Context, key domain.KeyRecord) (domain.KeyRecord, error)
	RevokeActiveKey(ctx context.Context, principalID int64, purpose domain.KeyPurpose) error
}

// OAuthStateStore persists short-lived OAuth CSRF state.
type OAuthStateStore interface {
	SaveState(ctx context.Context, key string, data domain.OAuthState, ttl time.Duration) error
	GetState(ctx context.Context, key string) (*domain.OAuthState, error)
	DeleteState(ctx context.Context, key string) error
}
