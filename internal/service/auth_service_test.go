package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tracknest/tracknest-auth/internal/config"
	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/issuer"
	"github.com/tracknest/tracknest-auth/internal/keystore"
	"github.com/tracknest/tracknest-auth/internal/service"
	"github.com/tracknest/tracknest-auth/internal/token"
)

func testConfig() config.Config {
	return config.Config{
		TokenIssuer:     "tracknest.io",
		TokenAudience:   "tracknest.io",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
}

type fixture struct {
	auth       *service.AuthService
	principals *memoryPrincipalRepo
	keys       *memoryKeyRepo
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	principals := newMemoryPrincipalRepo()
	keyRepo := &memoryKeyRepo{}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	codec := token.NewCodec()
	keys := keystore.New(keyRepo, node, zap.NewNop())
	tokenIssuer := issuer.New(keys, codec, cfg, zap.NewNop())
	auth := service.NewAuthService(principals, keys, tokenIssuer, codec, node, cfg, zap.NewNop())
	return &fixture{auth: auth, principals: principals, keys: keyRepo}
}

func TestRegisterThenAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	principal, pair, err := f.auth.Register(ctx, "User@Tracknest.io", "s3cret-pass", "Test User")
	require.NoError(t, err)
	require.Equal(t, "user@tracknest.io", principal.Email)
	require.Equal(t, []domain.Role{domain.RoleLearner}, principal.Roles)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)

	resolved, claims, err := f.auth.Authenticate(ctx, pair.AccessToken, domain.PurposeAccess)
	require.NoError(t, err)
	require.Equal(t, principal.ID, resolved.ID)
	require.Equal(t, "tracknest.io", claims.Issuer)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, _, err := f.auth.Register(ctx, "user@tracknest.io", "s3cret-pass", "")
	require.NoError(t, err)

	_, _, err = f.auth.Register(ctx, "user@tracknest.io", "other-pass", "")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, _, err := f.auth.Register(ctx, "user@tracknest.io", "s3cret-pass", "")
	require.NoError(t, err)

	_, _, err = f.auth.Login(ctx, "user@tracknest.io", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, _, err = f.auth.Login(ctx, "nobody@tracknest.io", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestTokenCrossUseFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, pair, err := f.auth.Register(ctx, "user@tracknest.io", "s3cret-pass", "")
	require.NoError(t, err)

	// Access token at the refresh gate and vice versa must both fail.
	_, _, err = f.auth.Authenticate(ctx, pair.AccessToken, domain.PurposeRefresh)
	require.ErrorIs(t, err, domain.ErrKeyRevoked)

	_, _, err = f.auth.Authenticate(ctx, pair.RefreshToken, domain.PurposeAccess)
	require.ErrorIs(t, err, domain.ErrKeyRevoked)
}

func TestReloginInvalidatesPriorPair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, first, err := f.auth.Register(ctx, "user@tracknest.io", "s3cret-pass", "")
	require.NoError(t, err)

	_, second, err := f.auth.Login(ctx, "user@tracknest.io", "s3cret-pass")
	require.NoError(t, err)

	_, _, err = f.auth.Authenticate(ctx, first.AccessToken, domain.PurposeAccess)
	require.ErrorIs(t, err, domain.ErrKeyRevoked)

	_, _, err = f.auth.Authenticate(ctx, second.AccessToken, domain.PurposeAccess)
	require.NoError(t, err)
}

func TestRefreshRotationFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, pairA, err := f.auth.Register(ctx, "user@tracknest.io", "s3cret-pass", "")
	require.NoError(t, err)

	pairB, err := f.auth.Refresh(ctx, pairA.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pairA.AccessToken, pairB.AccessToken)
	require.NotEqual(t, pairA.RefreshToken, pairB.RefreshToken)

	// The rotation revoked every key pair A was signed under.
	_, _, err = f.auth.Authenticate(ctx, pairA.AccessToken, domain.PurposeAccess)
	require.ErrorIs(t, err, domain.ErrKeyRevoked)
	_, err = f.auth.Refresh(ctx, pairA.RefreshToken)
	require.ErrorIs(t, err, domain.ErrKeyRevoked)

	_, _, err = f.auth.Authenticate(ctx, pairB.AccessToken, domain.PurposeAccess)
	require.NoError(t, err)
}

func TestLogoutRevokesBothLineages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	principal, pair, err := f.auth.Register(ctx, "user@tracknest.io", "s3cret-pass", "")
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, principal.ID))
	// Idempotent.
	require.NoError(t, f.auth.Logout(ctx, principal.ID))

	_, _, err = f.auth.Authenticate(ctx, pair.AccessToken, domain.PurposeAccess)
	require.ErrorIs(t, err, domain.ErrKeyRevoked)
	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrKeyRevoked)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.AccessTokenTTL = -time.Minute
	f := newFixture(t, cfg)

	_, pair, err := f.auth.Register(ctx, "user@tracknest.io", "s3cret-pass", "")
	require.NoError(t, err)

	_, _, err = f.auth.Authenticate(ctx, pair.AccessToken, domain.PurposeAccess)
	require.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestAuthenticateRejectsMalformedToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, _, err := f.auth.Authenticate(ctx, "garbage", domain.PurposeAccess)
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestAuthenticateRejectsForeignIssuer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	foreign := testConfig()
	foreign.TokenIssuer = "someone-else.io"
	other := newFixture(t, foreign)

	_, pair, err := other.auth.Register(ctx, "user@tracknest.io", "s3cret-pass", "")
	require.NoError(t, err)

	_, _, err = f.auth.Authenticate(ctx, pair.AccessToken, domain.PurposeAccess)
	require.ErrorIs(t, err, domain.ErrInvalidClaims)
}

func TestAuthenticateRejectsDeletedPrincipal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	principal, pair, err := f.auth.Register(ctx, "user@tracknest.io", "s3cret-pass", "")
	require.NoError(t, err)

	f.principals.delete(principal.ID)

	_, _, err = f.auth.Authenticate(ctx, pair.AccessToken, domain.PurposeAccess)
	require.ErrorIs(t, err, domain.ErrPrincipalNotFound)
}

// memoryPrincipalRepo is a concurrency-safe in-memory PrincipalRepository.
type memoryPrincipalRepo struct {
	mu    sync.Mutex
	byID  map[int64]domain.Principal
	byKey map[string]int64
}

func newMemoryPrincipalRepo() *memoryPrincipalRepo {
	return &memoryPrincipalRepo{
		byID:  make(map[int64]domain.Principal),
		byKey: make(map[string]int64),
	}
}

func (m *memoryPrincipalRepo) GetByID(ctx context.Context, principalID int64) (domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[principalID]
	if !ok {
		return domain.Principal{}, pgx.ErrNoRows
	}
	return p, nil
}

func (m *memoryPrincipalRepo) GetByEmail(ctx context.Context, email string) (domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[email]
	if !ok {
		return domain.Principal{}, pgx.ErrNoRows
	}
	return m.byID[id], nil
}

func (m *memoryPrincipalRepo) Create(ctx context.Context, principal domain.Principal) (domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	principal.CreatedAt = time.Now().UTC()
	principal.UpdatedAt = principal.CreatedAt
	m.byID[principal.ID] = principal
	m.byKey[principal.Email] = principal.ID
	return principal, nil
}

func (m *memoryPrincipalRepo) delete(principalID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[principalID]; ok {
		delete(m.byKey, p.Email)
		delete(m.byID, principalID)
	}
}

// memoryKeyRepo emulates the transactional Postgres key repository.
type memoryKeyRepo struct {
	mu      sync.Mutex
	records []domain.KeyRecord
}

func (m *memoryKeyRepo) GetActiveKey(ctx context.Context, principalID int64, purpose domain.KeyPurpose) (domain.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.PrincipalID == principalID && rec.Purpose == purpose && rec.RevokedAt == nil {
			return rec, nil
		}
	}
	return domain.KeyRecord{}, pgx.ErrNoRows
}

func (m *memoryKeyRepo) CreateKey(ctx context.Context, key domain.KeyRecord) (domain.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeLocked(key.PrincipalID, key.Purpose)
	m.records = append(m.records, key)
	return key, nil
}

func (m *memoryKeyRepo) RevokeActiveKey(ctx context.Context, principalID int64, purpose domain.KeyPurpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeLocked(principalID, purpose)
	return nil
}

func (m *memoryKeyRepo) revokeLocked(principalID int64, purpose domain.KeyPurpose) {
	now := time.Now().UTC()
	for i := range m.records {
		rec := &m.records[i]
		if rec.PrincipalID == principalID && rec.Purpose == purpose && rec.RevokedAt == nil {
			rec.RevokedAt = &now
		}
	}
}
