package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	oauthadapter "github.com/tracknest/tracknest-auth/internal/adapter/oauth"
	"github.com/tracknest/tracknest-auth/internal/config"
	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/issuer"
	"github.com/tracknest/tracknest-auth/internal/repository"
)

const (
	statePrefix   = "oauth:state:"
	stateTTL      = 5 * time.Minute
	googleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"
)

// ErrInvalidState indicates the OAuth state is missing, expired, or
// was already consumed.
var ErrInvalidState = errors.New("oauth: invalid state")

// StartAuthorizationOutput returns the prepared authorization URL and
// its CSRF state.
type StartAuthorizationOutput struct {
	AuthorizationURL string
	State            string
}

// OAuthService bridges the external identity provider to local
// principals: it runs the code exchange, fetches the external
// profile, and hands the resolved principal to the token issuer
// exactly as a password login would.
type OAuthService struct {
	provider   oauthadapter.ProviderClient
	states     repository.OAuthStateStore
	principals repository.PrincipalRepository
	issuer     *issuer.Issuer
	snowflake  *snowflake.Node
	cfg        config.Config
	logger     *zap.Logger
}

// NewOAuthService wires the OAuth bridge.
func NewOAuthService(provider oauthadapter.ProviderClient, states repository.OAuthStateStore, principals repository.PrincipalRepository, tokenIssuer *issuer.Issuer, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *OAuthService {
	if logger == nil {
		logger = zap.L()
	}
	return &OAuthService{
		provider:   provider,
		states:     states,
		principals: principals,
		issuer:     tokenIssuer,
		snowflake:  node,
		cfg:        cfg,
		logger:     logger,
	}
}

// StartAuthorization builds the provider authorization URL and
// persists the CSRF state for the callback to verify.
func (s *OAuthService) StartAuthorization(ctx context.Context) (*StartAuthorizationOutput, error) {
	state, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	authURL, err := url.Parse(googleAuthURL)
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("client_id", s.cfg.GoogleClientID)
	params.Set("redirect_uri", s.cfg.GoogleRedirectURL)
	params.Set("response_type", "code")
	params.Set("scope", "openid profile email")
	params.Set("state", state)
	params.Set("nonce", nonce)
	params.Set("access_type", "offline")
	authURL.RawQuery = params.Encode()

	payload := domain.OAuthState{
		State:       state,
		Nonce:       nonce,
		RedirectURI: s.cfg.GoogleRedirectURL,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.states.SaveState(ctx, statePrefix+state, payload, stateTTL); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}

	return &StartAuthorizationOutput{AuthorizationURL: authURL.String(), State: state}, nil
}

// HandleCallback consumes the provider callback: it verifies state,
// exchanges the code, fetches the profile, resolves or creates the
// local principal, and issues a token pair.
func (s *OAuthService) HandleCallback(ctx context.Context, code, state string) (domain.Principal, domain.TokenPair, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		return domain.Principal{}, domain.TokenPair{}, ErrInvalidState
	}

	stored, err := s.states.GetState(ctx, statePrefix+state)
	if err != nil {
		return domain.Principal{}, domain.TokenPair{}, fmt.Errorf("load state: %w", err)
	}
	if stored == nil || stored.State != state {
		return domain.Principal{}, domain.TokenPair{}, ErrInvalidState
	}
	// One-shot: the state cannot be replayed even if the exchange fails.
	if err := s.states.DeleteState(ctx, statePrefix+state); err != nil {
		return domain.Principal{}, domain.TokenPair{}, fmt.Errorf("consume state: %w", err)
	}

	tokens, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.Error("oauth code exchange failed", zap.Error(err))
		return domain.Principal{}, domain.TokenPair{}, fmt.Errorf("%w: %v", domain.ErrOAuthExchange, err)
	}

	identity, err := s.provider.FetchProfile(ctx, tokens)
	if err != nil {
		s.logger.Error("oauth profile fetch failed", zap.Error(err))
		return domain.Principal{}, domain.TokenPair{}, fmt.Errorf("%w: %v", domain.ErrProfileFetch, err)
	}

	principal, err := s.ResolveOrCreatePrincipal(ctx, identity)
	if err != nil {
		return domain.Principal{}, domain.TokenPair{}, err
	}

	pair, err := s.issuer.IssuePair(ctx, principal)
	if err != nil {
		return domain.Principal{}, domain.TokenPair{}, err
	}

	s.logger.Info("audit",
		zap.String("event", "oauth.login.success"),
		zap.Int64("principal_id", principal.ID),
		zap.String("provider", "google"),
	)
	return principal, pair, nil
}

// ResolveOrCreatePrincipal maps the transient external identity to a
// local principal, creating a learner account on first login. The
// identity is discarded afterwards.
func (s *OAuthService) ResolveOrCreatePrincipal(ctx context.Context, identity *domain.ExternalIdentity) (domain.Principal, error) {
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		return domain.Principal{}, fmt.Errorf("%w: identity without email", domain.ErrProfileFetch)
	}

	principal, err := s.principals.GetByEmail(ctx, email)
	if err == nil {
		return principal, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Principal{}, fmt.Errorf("resolve principal: %w", err)
	}

	created, err := s.principals.Create(ctx, domain.Principal{
		ID:            s.snowflake.Generate().Int64(),
		Email:         email,
		EmailVerified: identity.EmailVerified,
		Name:          identity.Name,
		AvatarURL:     identity.Picture,
		Roles:         []domain.Role{domain.RoleLearner},
	})
	if err != nil {
		return domain.Principal{}, fmt.Errorf("create principal: %w", err)
	}
	return created, nil
}

func secureRandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
