package issuer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tracknest/tracknest-auth/internal/config"
	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/keystore"
	"github.com/tracknest/tracknest-auth/internal/token"
)

// Issuer builds access/refresh token pairs bound to fresh signing
// keys. A pair is all-or-nothing: on any failure the caller receives
// no tokens. A dangling access key from a half-completed issuance is
// harmless, the next issuance supersedes it.
type Issuer struct {
	keys   *keystore.KeyStore
	codec  *token.Codec
	cfg    config.Config
	logger *zap.Logger
}

// New constructs an Issuer.
func New(keys *keystore.KeyStore, codec *token.Codec, cfg config.Config, logger *zap.Logger) *Issuer {
	if logger == nil {
		logger = zap.L()
	}
	return &Issuer{keys: keys, codec: codec, cfg: cfg, logger: logger}
}

// IssuePair rotates both key lineages for the principal and returns a
// freshly signed token pair. Tokens from the previous pair stop
// verifying as soon as this returns.
func (i *Issuer) IssuePair(ctx context.Context, principal domain.Principal) (domain.TokenPair, error) {
	access, err := i.issue(ctx, principal.ID, domain.PurposeAccess, i.cfg.AccessTokenTTL)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: access: %v", domain.ErrIssuance, err)
	}

	refresh, err := i.issue(ctx, principal.ID, domain.PurposeRefresh, i.cfg.RefreshTokenTTL)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: refresh: %v", domain.ErrIssuance, err)
	}

	i.logger.Info("audit",
		zap.String("event", "token_pair.issued"),
		zap.Int64("principal_id", principal.ID),
	)

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(i.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

func (i *Issuer) issue(ctx context.Context, principalID int64, purpose domain.KeyPurpose, ttl time.Duration) (string, error) {
	key, err := i.keys.IssueKey(ctx, principalID, purpose)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	raw, err := i.codec.Encode(token.Claims{
		Issuer:   i.cfg.TokenIssuer,
		Audience: i.cfg.TokenAudience,
		Subject:  strconv.FormatInt(principalID, 10),
		KeyID:    key.KID,
		IssuedAt: now,
		Expiry:   now.Add(ttl),
	}, key.Secret)
	if err != nil {
		return "", err
	}
	return raw, nil
}
