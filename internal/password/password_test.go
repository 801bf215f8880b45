package password_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracknest/tracknest-auth/internal/password"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := password.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.NotContains(t, hash, "correct horse")

	ok, err := password.Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = password.Verify("wrong password", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	first, err := password.Hash("same input")
	require.NoError(t, err)
	second, err := password.Hash("same input")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "not-a-hash", "$argon2id$v=19$garbage"} {
		ok, err := password.Verify("anything", encoded)
		require.False(t, ok, "encoded=%q", encoded)
		require.Error(t, err)
	}
}
