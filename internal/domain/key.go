package domain

import "time"

// KeyPurpose distinguishes the access and refresh token lineages. Each
// purpose has its own KeyRecord chain per principal.
type KeyPurpose string

const (
	PurposeAccess  KeyPurpose = "access"
	PurposeRefresh KeyPurpose = "refresh"
)

// Valid reports whether the purpose is one of the known values.
func (p KeyPurpose) Valid() bool {
	return p == PurposeAccess || p == PurposeRefresh
}

// KeyRecord stores one signing key for a (principal, purpose) pair.
// At most one record per pair is active at a time; rotation revokes
// the old record and inserts a new one, the row itself is never
// updated except for the revocation timestamp.
type KeyRecord struct {
	ID          int64
	PrincipalID int64
	Purpose     KeyPurpose
	KID         string
	Secret      []byte
	Algorithm   string
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// Active reports whether the record is still valid for verification.
func (k KeyRecord) Active() bool {
	return k.RevokedAt == nil
}

// TokenPair is the result of a successful issuance: both tokens or
// neither.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}
