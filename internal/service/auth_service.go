package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tracknest/tracknest-auth/internal/config"
	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/issuer"
	"github.com/tracknest/tracknest-auth/internal/keystore"
	pw "github.com/tracknest/tracknest-auth/internal/password"
	"github.com/tracknest/tracknest-auth/internal/repository"
	"github.com/tracknest/tracknest-auth/internal/token"
)

// AuthService encapsulates authentication flows: registration, login,
// token verification, refresh rotation, and logout.
type AuthService struct {
	principals repository.PrincipalRepository
	keys       *keystore.KeyStore
	issuer     *issuer.Issuer
	codec      *token.Codec
	snowflake  *snowflake.Node
	cfg        config.Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(principals repository.PrincipalRepository, keys *keystore.KeyStore, tokenIssuer *issuer.Issuer, codec *token.Codec, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		principals: principals,
		keys:       keys,
		issuer:     tokenIssuer,
		codec:      codec,
		snowflake:  node,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("github.com/tracknest/tracknest-auth/internal/service"),
	}
}

// Register creates a principal with the learner role and issues its
// first token pair.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (domain.Principal, domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || password == "" {
		return domain.Principal{}, domain.TokenPair{}, domain.ErrInvalidCredentials
	}

	if _, err := s.principals.GetByEmail(ctx, normalized); err == nil {
		return domain.Principal{}, domain.TokenPair{}, fmt.Errorf("%w: email already registered", domain.ErrInvalidCredentials)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return domain.Principal{}, domain.TokenPair{}, fmt.Errorf("register lookup: %w", err)
	}

	hash, err := pw.Hash(password)
	if err != nil {
		span.RecordError(err)
		return domain.Principal{}, domain.TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	principal, err := s.principals.Create(ctx, domain.Principal{
		ID:           s.snowflake.Generate().Int64(),
		Email:        normalized,
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		Roles:        []domain.Role{domain.RoleLearner},
	})
	if err != nil {
		span.RecordError(err)
		return domain.Principal{}, domain.TokenPair{}, fmt.Errorf("create principal: %w", err)
	}

	pair, err := s.issuer.IssuePair(ctx, principal)
	if err != nil {
		span.RecordError(err)
		return domain.Principal{}, domain.TokenPair{}, err
	}

	s.audit("register.success", "principal_id", principal.ID)
	return principal, pair, nil
}

// Login authenticates with email/password and issues a token pair,
// superseding any previously issued pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (domain.Principal, domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(email))
	principal, err := s.principals.GetByEmail(ctx, normalized)
	if err != nil {
		span.RecordError(err)
		return domain.Principal{}, domain.TokenPair{}, domain.ErrInvalidCredentials
	}

	valid, err := pw.Verify(password, principal.PasswordHash)
	if err != nil || !valid {
		return domain.Principal{}, domain.TokenPair{}, domain.ErrInvalidCredentials
	}

	pair, err := s.issuer.IssuePair(ctx, principal)
	if err != nil {
		span.RecordError(err)
		return domain.Principal{}, domain.TokenPair{}, err
	}

	s.audit("login.success", "principal_id", principal.ID)
	return principal, pair, nil
}

// Refresh verifies the refresh token and rotates both lineages,
// invalidating the pair the token belonged to.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	principal, _, err := s.Authenticate(ctx, refreshToken, domain.PurposeRefresh)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}

	pair, err := s.issuer.IssuePair(ctx, principal)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}

	s.audit("refresh.success", "principal_id", principal.ID)
	return pair, nil
}

// Logout revokes both key lineages for the principal. Tokens signed
// under them stop verifying immediately. Idempotent.
func (s *AuthService) Logout(ctx context.Context, principalID int64) error {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()

	if err := s.keys.RevokeAll(ctx, principalID); err != nil {
		span.RecordError(err)
		return err
	}
	s.audit("logout.success", "principal_id", principalID)
	return nil
}

// Authenticate resolves a principal from a raw bearer token. The
// checks run in a fixed order so failures carry a precise class, but
// every failure short-circuits before the caller sees a principal:
//
//	parse (unverified) -> claim shape -> active key lookup ->
//	signature + expiry -> principal load
//
// Revocation strictly dominates expiry: a token signed under a
// superseded key is rejected even if its exp has not elapsed.
func (s *AuthService) Authenticate(ctx context.Context, rawToken string, purpose domain.KeyPurpose) (domain.Principal, token.Claims, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Authenticate")
	defer span.End()

	provisional, err := s.codec.Peek(rawToken)
	if err != nil {
		return domain.Principal{}, token.Claims{}, err
	}

	subject, err := s.validateClaimShape(provisional)
	if err != nil {
		return domain.Principal{}, token.Claims{}, err
	}

	key, err := s.keys.ActiveKey(ctx, subject, purpose)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Principal{}, token.Claims{}, domain.ErrKeyRevoked
		}
		span.RecordError(err)
		return domain.Principal{}, token.Claims{}, fmt.Errorf("load key: %w", err)
	}
	if key.KID != provisional.KeyID {
		// Token was signed under a superseded record.
		return domain.Principal{}, token.Claims{}, domain.ErrKeyRevoked
	}

	claims, err := s.codec.Decode(rawToken, key.Secret)
	if err != nil {
		return domain.Principal{}, token.Claims{}, err
	}

	principal, err := s.principals.GetByID(ctx, subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Principal{}, token.Claims{}, domain.ErrPrincipalNotFound
		}
		span.RecordError(err)
		return domain.Principal{}, token.Claims{}, fmt.Errorf("load principal: %w", err)
	}

	return principal, claims, nil
}

// validateClaimShape checks the provisional claim set against the
// configured issuer and audience and returns the parsed subject id.
func (s *AuthService) validateClaimShape(claims token.Claims) (int64, error) {
	if claims.Issuer != s.cfg.TokenIssuer || claims.Audience != s.cfg.TokenAudience {
		return 0, domain.ErrInvalidClaims
	}
	if strings.TrimSpace(claims.KeyID) == "" {
		return 0, domain.ErrInvalidClaims
	}
	subject, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || subject <= 0 {
		return 0, domain.ErrInvalidClaims
	}
	return subject, nil
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
