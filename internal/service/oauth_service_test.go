package service_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	oauthadapter "github.com/tracknest/tracknest-auth/internal/adapter/oauth"
	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/issuer"
	"github.com/tracknest/tracknest-auth/internal/keystore"
	"github.com/tracknest/tracknest-auth/internal/service"
	"github.com/tracknest/tracknest-auth/internal/token"
)

type oauthFixture struct {
	oauth      *service.OAuthService
	auth       *service.AuthService
	provider   *fakeProvider
	states     *memoryStateStore
	principals *memoryPrincipalRepo
}

func newOAuthFixture(t *testing.T) *oauthFixture {
	t.Helper()
	cfg := testConfig()
	cfg.GoogleClientID = "client-id"
	cfg.GoogleClientSecret = "client-secret"
	cfg.GoogleRedirectURL = "https://app.tracknest.io/oauth/callback"

	principals := newMemoryPrincipalRepo()
	keyRepo := &memoryKeyRepo{}
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	codec := token.NewCodec()
	keys := keystore.New(keyRepo, node, zap.NewNop())
	tokenIssuer := issuer.New(keys, codec, cfg, zap.NewNop())

	provider := &fakeProvider{
		identity: domain.ExternalIdentity{
			Subject:       "google-sub-1",
			Email:         "learner@tracknest.io",
			EmailVerified: true,
			Name:          "OAuth Learner",
			Picture:       "https://example.com/avatar.png",
		},
	}
	states := newMemoryStateStore()

	return &oauthFixture{
		oauth:      service.NewOAuthService(provider, states, principals, tokenIssuer, node, cfg, zap.NewNop()),
		auth:       service.NewAuthService(principals, keys, tokenIssuer, codec, node, cfg, zap.NewNop()),
		provider:   provider,
		states:     states,
		principals: principals,
	}
}

func TestStartAuthorizationBuildsURLAndState(t *testing.T) {
	ctx := context.Background()
	f := newOAuthFixture(t)

	output, err := f.oauth.StartAuthorization(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, output.State)

	parsed, err := url.Parse(output.AuthorizationURL)
	require.NoError(t, err)
	require.Equal(t, "accounts.google.com", parsed.Host)
	query := parsed.Query()
	require.Equal(t, "client-id", query.Get("client_id"))
	require.Equal(t, "code", query.Get("response_type"))
	require.Equal(t, output.State, query.Get("state"))
	require.Equal(t, 1, f.states.size())
}

func TestHandleCallbackCreatesPrincipalAndIssuesPair(t *testing.T) {
	ctx := context.Background()
	f := newOAuthFixture(t)

	output, err := f.oauth.StartAuthorization(ctx)
	require.NoError(t, err)

	principal, pair, err := f.oauth.HandleCallback(ctx, "auth-code", output.State)
	require.NoError(t, err)
	require.Equal(t, "learner@tracknest.io", principal.Email)
	require.Equal(t, []domain.Role{domain.RoleLearner}, principal.Roles)
	require.True(t, principal.EmailVerified)
	require.Equal(t, "auth-code", f.provider.lastCode)

	// The pair behaves exactly like one from a password login.
	resolved, _, err := f.auth.Authenticate(ctx, pair.AccessToken, domain.PurposeAccess)
	require.NoError(t, err)
	require.Equal(t, principal.ID, resolved.ID)

	// State is single-use.
	_, _, err = f.oauth.HandleCallback(ctx, "auth-code", output.State)
	require.ErrorIs(t, err, service.ErrInvalidState)
}

func TestHandleCallbackResolvesExistingPrincipal(t *testing.T) {
	ctx := context.Background()
	f := newOAuthFixture(t)

	existing, _, err := f.auth.Register(ctx, "learner@tracknest.io", "s3cret-pass", "Existing")
	require.NoError(t, err)

	output, err := f.oauth.StartAuthorization(ctx)
	require.NoError(t, err)

	principal, _, err := f.oauth.HandleCallback(ctx, "auth-code", output.State)
	require.NoError(t, err)
	require.Equal(t, existing.ID, principal.ID)
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	ctx := context.Background()
	f := newOAuthFixture(t)

	_, _, err := f.oauth.HandleCallback(ctx, "auth-code", "never-issued")
	require.ErrorIs(t, err, service.ErrInvalidState)

	_, _, err = f.oauth.HandleCallback(ctx, "", "")
	require.ErrorIs(t, err, service.ErrInvalidState)
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	ctx := context.Background()
	f := newOAuthFixture(t)
	f.provider.exchangeErr = errors.New("provider down")

	output, err := f.oauth.StartAuthorization(ctx)
	require.NoError(t, err)

	_, _, err = f.oauth.HandleCallback(ctx, "auth-code", output.State)
	require.ErrorIs(t, err, domain.ErrOAuthExchange)
}

func TestHandleCallbackProfileFailure(t *testing.T) {
	ctx := context.Background()
	f := newOAuthFixture(t)
	f.provider.profileErr = errors.New("userinfo down")

	output, err := f.oauth.StartAuthorization(ctx)
	require.NoError(t, err)

	_, _, err = f.oauth.HandleCallback(ctx, "auth-code", output.State)
	require.ErrorIs(t, err, domain.ErrProfileFetch)
}

// fakeProvider satisfies the provider client without network calls.
type fakeProvider struct {
	identity    domain.ExternalIdentity
	exchangeErr error
	profileErr  error
	lastCode    string
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*oauthadapter.TokenResponse, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	f.lastCode = code
	return &oauthadapter.TokenResponse{
		AccessToken: "provider-access",
		IDToken:     "provider-id-token",
		TokenType:   "Bearer",
	}, nil
}

func (f *fakeProvider) FetchProfile(ctx context.Context, tokens *oauthadapter.TokenResponse) (*domain.ExternalIdentity, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	identity := f.identity
	return &identity, nil
}

// memoryStateStore is an in-memory OAuthStateStore.
type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]domain.OAuthState
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[string]domain.OAuthState)}
}

func (m *memoryStateStore) SaveState(ctx context.Context, key string, data domain.OAuthState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = data
	return nil
}

func (m *memoryStateStore) GetState(ctx context.Context, key string) (*domain.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[key]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *memoryStateStore) DeleteState(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

func (m *memoryStateStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
