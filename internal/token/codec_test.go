package token_test

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/token"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 64)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func testClaims() token.Claims {
	now := time.Now().UTC().Truncate(time.Second)
	return token.Claims{
		Issuer:   "tracknest.io",
		Audience: "tracknest.io",
		Subject:  "42",
		KeyID:    "kid-1",
		IssuedAt: now,
		Expiry:   now.Add(time.Hour),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec := token.NewCodec()
	key := testKey(t)
	claims := testClaims()

	raw, err := codec.Encode(claims, key)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	decoded, err := codec.Decode(raw, key)
	require.NoError(t, err)
	require.Equal(t, claims, decoded)
}

func TestCodecEncodeRequiresAllClaims(t *testing.T) {
	codec := token.NewCodec()
	key := testKey(t)

	mutations := map[string]func(*token.Claims){
		"issuer":   func(c *token.Claims) { c.Issuer = "" },
		"audience": func(c *token.Claims) { c.Audience = "" },
		"subject":  func(c *token.Claims) { c.Subject = "" },
		"key id":   func(c *token.Claims) { c.KeyID = "" },
		"expiry":   func(c *token.Claims) { c.Expiry = time.Time{} },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			claims := testClaims()
			mutate(&claims)
			_, err := codec.Encode(claims, key)
			require.ErrorIs(t, err, domain.ErrSigning)
		})
	}
}

func TestCodecDecodeWrongKey(t *testing.T) {
	codec := token.NewCodec()

	raw, err := codec.Encode(testClaims(), testKey(t))
	require.NoError(t, err)

	_, err = codec.Decode(raw, testKey(t))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestCodecDecodeTamperedSignature(t *testing.T) {
	codec := token.NewCodec()
	key := testKey(t)

	raw, err := codec.Encode(testClaims(), key)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = codec.Decode(tampered, key)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestCodecDecodeGarbage(t *testing.T) {
	codec := token.NewCodec()

	_, err := codec.Decode("not-a-token", testKey(t))
	require.ErrorIs(t, err, domain.ErrMalformedToken)

	_, err = codec.Peek("still.not")
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestCodecDecodeExpired(t *testing.T) {
	codec := token.NewCodec()
	key := testKey(t)

	claims := testClaims()
	claims.IssuedAt = time.Now().UTC().Add(-2 * time.Hour)
	claims.Expiry = time.Now().UTC().Add(-time.Hour)

	raw, err := codec.Encode(claims, key)
	require.NoError(t, err)

	_, err = codec.Decode(raw, key)
	require.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestCodecPeekSkipsVerification(t *testing.T) {
	codec := token.NewCodec()
	claims := testClaims()

	raw, err := codec.Encode(claims, testKey(t))
	require.NoError(t, err)

	// Peek never sees the key, yet still surfaces the claim set.
	peeked, err := codec.Peek(raw)
	require.NoError(t, err)
	require.Equal(t, claims.Subject, peeked.Subject)
	require.Equal(t, claims.KeyID, peeked.KeyID)
}
