package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateOtpCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		code, err := GenerateOtpCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		require.NotEqual(t, byte('0'), code[0])
		for _, c := range code {
			require.True(t, c >= '0' && c <= '9')
		}
		seen[code] = struct{}{}
	}
	require.Greater(t, len(seen), 1)
}

func TestHashAndCompareOtpCode(t *testing.T) {
	hash, err := HashOtpCode("482913", bcrypt.MinCost)
	require.NoError(t, err)

	require.NoError(t, CompareOtpCode(hash, "482913"))
	require.Error(t, CompareOtpCode(hash, "482914"))
}
