package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastSealConfig keeps scrypt cheap in tests
func fastSealConfig() *SealConfig {
	return &SealConfig{SCryptN: 1024, SCryptR: 8, SCryptP: 1, SCryptKeyLen: 32, SaltSize: 16}
}

func TestSealSecret(t *testing.T) {
	secret := "4f0c3a1e9b7d6c5a4f0c3a1e9b7d6c5a"

	t.Run("round trip", func(t *testing.T) {
		sealed, err := SealSecret(secret, "correct horse", fastSealConfig())
		require.NoError(t, err)
		assert.True(t, IsSealed(sealed))
		assert.NotContains(t, sealed, secret)

		opened, err := OpenSecret(sealed, "correct horse")
		require.NoError(t, err)
		assert.Equal(t, secret, opened)
	})

	t.Run("fresh salt every time", func(t *testing.T) {
		a, err := SealSecret(secret, "pw", fastSealConfig())
		require.NoError(t, err)
		b, err := SealSecret(secret, "pw", fastSealConfig())
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		sealed, err := SealSecret(secret, "right", fastSealConfig())
		require.NoError(t, err)

		_, err = OpenSecret(sealed, "wrong")
		assert.ErrorIs(t, err, ErrWrongPassphrase)
	})

	t.Run("input errors", func(t *testing.T) {
		_, err := SealSecret("", "pw", fastSealConfig())
		assert.Error(t, err)

		_, err = SealSecret(secret, "", fastSealConfig())
		assert.ErrorIs(t, err, ErrEmptyPassphrase)

		_, err = OpenSecret(secret, "pw")
		assert.ErrorIs(t, err, ErrNotSealed)

		_, err = OpenSecret(SealedPrefix+"abc", "")
		assert.ErrorIs(t, err, ErrEmptyPassphrase)
	})

	t.Run("corrupted values", func(t *testing.T) {
		sealed, err := SealSecret(secret, "pw", fastSealConfig())
		require.NoError(t, err)

		for _, bad := range []string{
			SealedPrefix + "!!!not-base64",
			SealedPrefix + "bm90IGpzb24=",
			strings.TrimSuffix(sealed, sealed[len(sealed)-8:]),
		} {
			_, err := OpenSecret(bad, "pw")
			assert.Error(t, err, bad)
		}
	})
}
