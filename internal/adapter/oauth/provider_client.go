package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tracknest/tracknest-auth/internal/config"
	"github.com/tracknest/tracknest-auth/internal/domain"
)

// TokenResponse is the provider's answer to the code exchange.
type TokenResponse struct {
	AccessToken string
	IDToken     string
	TokenType   string
	Scope       string
	ExpiresIn   int64
	Raw         map[string]any
}

// ProviderClient encapsulates outbound HTTP calls to the external
// identity provider. Both calls are opaque: retry policy belongs to
// the caller.
type ProviderClient interface {
	ExchangeCode(ctx context.Context, code string) (*TokenResponse, error)
	FetchProfile(ctx context.Context, tokens *TokenResponse) (*domain.ExternalIdentity, error)
}

// GoogleClient is the default ProviderClient speaking to Google's
// OAuth2 endpoints.
type GoogleClient struct {
	httpClient *http.Client
	cfg        config.Config
}

// NewGoogleClient constructs the default ProviderClient.
func NewGoogleClient(client *http.Client, cfg config.Config) *GoogleClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleClient{httpClient: client, cfg: cfg}
}

// ExchangeCode performs the authorization-code exchange.
func (c *GoogleClient) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("client_id", c.cfg.GoogleClientID)
	data.Set("client_secret", c.cfg.GoogleClientSecret)
	data.Set("redirect_uri", c.cfg.GoogleRedirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GoogleTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token exchange failed: status=%d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	token := &TokenResponse{
		AccessToken: stringValue(raw["access_token"]),
		IDToken:     stringValue(raw["id_token"]),
		TokenType:   stringValue(raw["token_type"]),
		Scope:       stringValue(raw["scope"]),
		Raw:         raw,
	}
	if exp, ok := raw["expires_in"].(float64); ok {
		token.ExpiresIn = int64(exp)
	}
	return token, nil
}

// FetchProfile loads the userinfo profile for the exchanged tokens.
// Google wants the access token as a query parameter and the id token
// as the bearer credential.
func (c *GoogleClient) FetchProfile(ctx context.Context, tokens *TokenResponse) (*domain.ExternalIdentity, error) {
	endpoint, err := url.Parse(c.cfg.GoogleUserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("parse userinfo url: %w", err)
	}
	query := endpoint.Query()
	query.Set("access_token", tokens.AccessToken)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokens.IDToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read userinfo: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("userinfo failed: status=%d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}

	verified, _ := raw["verified_email"].(bool)
	return &domain.ExternalIdentity{
		Subject:       stringValue(raw["id"]),
		Email:         stringValue(raw["email"]),
		EmailVerified: verified,
		Name:          stringValue(raw["name"]),
		Picture:       stringValue(raw["picture"]),
		Raw:           raw,
	}, nil
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
