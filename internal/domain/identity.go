package domain

import "time"

// ExternalIdentity is the transient result of an OAuth code exchange.
// It is consumed once to resolve or create a local principal and then
// discarded; nothing persists the raw payload.
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Raw           map[string]any
}

// OAuthState is the CSRF state persisted between the authorization
// redirect and the provider callback.
type OAuthState struct {
	State       string    `json:"state"`
	Nonce       string    `json:"nonce"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
}
