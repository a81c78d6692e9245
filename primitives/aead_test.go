package primitives

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEAD(t *testing.T) {
	key := make([]byte, AEADKeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	nonce := make([]byte, AEADNonceSize)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	t.Run("SealOpenRoundTrip", func(t *testing.T) {
		pt := []byte("ratchet message payload")
		aad := []byte("header")
		ct, err := AEADSeal(key, nonce, aad, pt)
		require.NoError(t, err)

		got, err := AEADOpen(key, nonce, aad, ct)
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	})

	t.Run("RejectsTamperedCiphertext", func(t *testing.T) {
		ct, err := AEADSeal(key, nonce, nil, []byte("payload"))
		require.NoError(t, err)
		ct[0] ^= 0xFF

		_, err = AEADOpen(key, nonce, nil, ct)
		require.Error(t, err)
		assert.True(t, IsAuthenticationFailure(err))
	})

	t.Run("RejectsMismatchedAAD", func(t *testing.T) {
		ct, err := AEADSeal(key, nonce, []byte("aad-a"), []byte("payload"))
		require.NoError(t, err)

		_, err = AEADOpen(key, nonce, []byte("aad-b"), ct)
		require.Error(t, err)
	})

	t.Run("RejectsBadKeyLength", func(t *testing.T) {
		_, err := AEADSeal([]byte("short"), nonce, nil, []byte("payload"))
		assert.Error(t, err)
	})
}
