package domain

import "errors"

// Authentication failures. The HTTP layer collapses all of these into
// one generic 401 so callers cannot distinguish expired from revoked
// credentials.
var (
	// ErrCredentialMissing signals an absent or non-Bearer Authorization header.
	ErrCredentialMissing = errors.New("auth: credential missing")
	// ErrMalformedToken indicates the token structure could not be parsed.
	ErrMalformedToken = errors.New("auth: malformed token")
	// ErrInvalidClaims indicates a parseable token whose claim set is unusable.
	ErrInvalidClaims = errors.New("auth: invalid claims")
	// ErrInvalidSignature indicates signature verification failed against the active key.
	ErrInvalidSignature = errors.New("auth: invalid signature")
	// ErrTokenExpired indicates the expiry claim has elapsed.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrKeyRevoked indicates no active key matches the token's key identifier.
	ErrKeyRevoked = errors.New("auth: key revoked or unknown")
	// ErrPrincipalNotFound indicates the token subject no longer resolves to an identity.
	ErrPrincipalNotFound = errors.New("auth: principal not found")
	// ErrInvalidCredentials indicates a failed email/password login.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Authorization failures, safe to report as-is since the caller is
// already authenticated.
var (
	ErrInsufficientRole = errors.New("auth: insufficient role")
	ErrForbidden        = errors.New("auth: forbidden")
)

// Internal and external-dependency failures.
var (
	// ErrSigning indicates claim serialization or signing failed.
	ErrSigning = errors.New("auth: signing failed")
	// ErrIssuance indicates the token pair could not be completed.
	ErrIssuance = errors.New("auth: issuance failed")
	// ErrOAuthExchange indicates the provider rejected the code exchange.
	ErrOAuthExchange = errors.New("auth: oauth exchange failed")
	// ErrProfileFetch indicates the provider profile could not be retrieved.
	ErrProfileFetch = errors.New("auth: profile fetch failed")
)

// AuthFailure reports whether err belongs to the authentication
// failure class that must surface as a generic unauthorized response.
func AuthFailure(err error) bool {
	for _, target := range []error{
		ErrCredentialMissing,
		ErrMalformedToken,
		ErrInvalidClaims,
		ErrInvalidSignature,
		ErrTokenExpired,
		ErrKeyRevoked,
		ErrPrincipalNotFound,
		ErrInvalidCredentials,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
