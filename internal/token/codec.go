package token

import (
	"fmt"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/tracknest/tracknest-auth/internal/domain"
)

// Claims is the payload carried by every issued token. KeyID is
// emitted as the `prm` claim and ties the token to the KeyRecord it
// was signed under.
type Claims struct {
	Issuer   string
	Audience string
	Subject  string
	KeyID    string
	IssuedAt time.Time
	Expiry   time.Time
}

// permClaim carries the non-standard prm claim alongside the
// registered claim set.
type permClaim struct {
	Prm string `json:"prm"`
}

// Codec signs and verifies tokens. It holds no storage; callers
// resolve the key to verify against.
type Codec struct {
	alg gojose.SignatureAlgorithm
}

// NewCodec constructs a codec using HMAC-SHA256 signatures.
func NewCodec() *Codec {
	return &Codec{alg: gojose.HS256}
}

// Encode serializes and signs the claims with the provided key
// material. All claim fields are required.
func (c *Codec) Encode(claims Claims, key []byte) (string, error) {
	if err := requireComplete(claims); err != nil {
		return "", err
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: c.alg, Key: key},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("%w: new signer: %v", domain.ErrSigning, err)
	}

	std := gojwt.Claims{
		Issuer:   claims.Issuer,
		Audience: gojwt.Audience{claims.Audience},
		Subject:  claims.Subject,
		IssuedAt: gojwt.NewNumericDate(claims.IssuedAt),
		Expiry:   gojwt.NewNumericDate(claims.Expiry),
	}

	raw, err := gojwt.Signed(signer).Claims(std).Claims(permClaim{Prm: claims.KeyID}).Serialize()
	if err != nil {
		return "", fmt.Errorf("%w: serialize: %v", domain.ErrSigning, err)
	}
	return raw, nil
}

// Decode verifies the signature against key and checks expiry,
// returning the embedded claims.
func (c *Codec) Decode(raw string, key []byte) (Claims, error) {
	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{c.alg})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}

	var std gojwt.Claims
	var perm permClaim
	if err := parsed.Claims(key, &std, &perm); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	claims := fromStd(std, perm)
	if !claims.Expiry.IsZero() && time.Now().After(claims.Expiry) {
		return Claims{}, domain.ErrTokenExpired
	}
	return claims, nil
}

// Peek parses the claims without verifying the signature. The result
// is provisional: it identifies which key record to load, nothing
// more.
func (c *Codec) Peek(raw string) (Claims, error) {
	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{c.alg})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}

	var std gojwt.Claims
	var perm permClaim
	if err := parsed.UnsafeClaimsWithoutVerification(&std, &perm); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	return fromStd(std, perm), nil
}

func fromStd(std gojwt.Claims, perm permClaim) Claims {
	claims := Claims{
		Issuer:  std.Issuer,
		Subject: std.Subject,
		KeyID:   perm.Prm,
	}
	if len(std.Audience) > 0 {
		claims.Audience = std.Audience[0]
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time().UTC()
	}
	if std.Expiry != nil {
		claims.Expiry = std.Expiry.Time().UTC()
	}
	return claims
}

func requireComplete(claims Claims) error {
	switch {
	case strings.TrimSpace(claims.Issuer) == "":
		return fmt.Errorf("%w: issuer missing", domain.ErrSigning)
	case strings.TrimSpace(claims.Audience) == "":
		return fmt.Errorf("%w: audience missing", domain.ErrSigning)
	case strings.TrimSpace(claims.Subject) == "":
		return fmt.Errorf("%w: subject missing", domain.ErrSigning)
	case strings.TrimSpace(claims.KeyID) == "":
		return fmt.Errorf("%w: key id missing", domain.ErrSigning)
	case claims.Expiry.IsZero():
		return fmt.Errorf("%w: expiry missing", domain.ErrSigning)
	}
	return nil
}
