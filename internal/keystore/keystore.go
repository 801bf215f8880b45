package keystore

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	gojose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/repository"
)

const secretLen = 64

// lockStripes bounds the number of in-process mutexes; principals
// sharing a stripe serialize against each other, which is harmless.
const lockStripes = 256

// KeyStore owns generation, lookup, and revocation of signing key
// records. Writes for the same principal are serialized so two racing
// issuances cannot both observe "no active key"; reads take no lock.
type KeyStore struct {
	repo   repository.KeyRepository
	node   *snowflake.Node
	logger *zap.Logger
	locks  [lockStripes]sync.Mutex
}

// New constructs a KeyStore.
func New(repo repository.KeyRepository, node *snowflake.Node, logger *zap.Logger) *KeyStore {
	if logger == nil {
		logger = zap.L()
	}
	return &KeyStore{repo: repo, node: node, logger: logger}
}

func (s *KeyStore) lock(principalID int64) *sync.Mutex {
	idx := uint64(principalID) % lockStripes
	return &s.locks[idx]
}

// IssueKey generates fresh key material for (principal, purpose),
// revoking whatever record was active for the same pair. The
// superseded record's tokens become invalid immediately.
func (s *KeyStore) IssueKey(ctx context.Context, principalID int64, purpose domain.KeyPurpose) (domain.KeyRecord, error) {
	if !purpose.Valid() {
		return domain.KeyRecord{}, fmt.Errorf("issue key: unknown purpose %q", purpose)
	}

	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return domain.KeyRecord{}, fmt.Errorf("generate secret: %w", err)
	}

	record := domain.KeyRecord{
		ID:          s.node.Generate().Int64(),
		PrincipalID: principalID,
		Purpose:     purpose,
		KID:         uuid.NewString(),
		Secret:      secret,
		Algorithm:   string(gojose.HS256),
	}

	mu := s.lock(principalID)
	mu.Lock()
	defer mu.Unlock()

	created, err := s.repo.CreateKey(ctx, record)
	if err != nil {
		return domain.KeyRecord{}, fmt.Errorf("persist key record: %w", err)
	}

	s.logger.Info("audit",
		zap.String("event", "key.issued"),
		zap.Int64("principal_id", principalID),
		zap.String("purpose", string(purpose)),
		zap.String("kid", created.KID),
	)
	return created, nil
}

// ActiveKey returns the current active record for (principal,
// purpose). When none exists the repository's not-found error is
// passed through for the caller to classify.
func (s *KeyStore) ActiveKey(ctx context.Context, principalID int64, purpose domain.KeyPurpose) (domain.KeyRecord, error) {
	key, err := s.repo.GetActiveKey(ctx, principalID, purpose)
	if err != nil {
		return domain.KeyRecord{}, fmt.Errorf("active key: %w", err)
	}
	return key, nil
}

// RevokeKey marks the active record for (principal, purpose) revoked.
// Revoking when no record is active is a no-op.
func (s *KeyStore) RevokeKey(ctx context.Context, principalID int64, purpose domain.KeyPurpose) error {
	mu := s.lock(principalID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.repo.RevokeActiveKey(ctx, principalID, purpose); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}

	s.logger.Info("audit",
		zap.String("event", "key.revoked"),
		zap.Int64("principal_id", principalID),
		zap.String("purpose", string(purpose)),
	)
	return nil
}

// RevokeAll revokes both token lineages for the principal, used by
// logout and compromise response.
func (s *KeyStore) RevokeAll(ctx context.Context, principalID int64) error {
	for _, purpose := range []domain.KeyPurpose{domain.PurposeAccess, domain.PurposeRefresh} {
		if err := s.RevokeKey(ctx, principalID, purpose); err != nil {
			return err
		}
	}
	return nil
}
