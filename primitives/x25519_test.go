package primitives

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX25519KeyPair(t *testing.T) {
	t.Run("GenerateKeyPair", func(t *testing.T) {
		kp, err := GenerateX25519KeyPair()
		require.NoError(t, err)
		assert.NotNil(t, kp.Private)
		assert.NotNil(t, kp.Public)
		assert.Len(t, kp.PublicBytes(), X25519KeySize)
	})

	t.Run("DeriveSharedSecret", func(t *testing.T) {
		a, err := GenerateX25519KeyPair()
		require.NoError(t, err)
		b, err := GenerateX25519KeyPair()
		require.NoError(t, err)

		s1, err := X25519DH(a.Private, b.PublicBytes())
		require.NoError(t, err)
		s2, err := X25519DH(b.Private, a.PublicBytes())
		require.NoError(t, err)

		assert.Equal(t, s1, s2)
		assert.Len(t, s1, X25519SharedSize)
	})

	t.Run("RejectsWrongLengthPeerKey", func(t *testing.T) {
		a, err := GenerateX25519KeyPair()
		require.NoError(t, err)
		_, err = X25519DH(a.Private, []byte{1, 2, 3})
		assert.Error(t, err)
	})

	t.Run("ConvertEd25519ToX25519", func(t *testing.T) {
		kp, err := GenerateEd25519KeyPair()
		require.NoError(t, err)

		scalar, err := EdPrivToX25519Scalar(kp.Private)
		require.NoError(t, err)
		assert.Len(t, scalar, X25519KeySize)

		pub, err := EdPubToX25519(kp.Public)
		require.NoError(t, err)
		assert.Len(t, pub, X25519KeySize)
	})

	t.Run("ZeroizeClearsPair", func(t *testing.T) {
		kp, err := GenerateX25519KeyPair()
		require.NoError(t, err)
		kp.Zeroize()
		assert.Nil(t, kp.Private)
		assert.Nil(t, kp.Public)
	})
}

func TestXEdDSA(t *testing.T) {
	t.Run("SignAndVerifyRoundTrip", func(t *testing.T) {
		kp, err := GenerateEd25519KeyPair()
		require.NoError(t, err)

		scalar, err := EdPrivToX25519Scalar(kp.Private)
		require.NoError(t, err)
		montPub, err := EdPubToX25519(kp.Public)
		require.NoError(t, err)

		message := []byte("b4ae handshake transcript")
		sig, err := XEdDSASign(scalar, message)
		require.NoError(t, err)
		assert.Len(t, sig, 64)

		err = XEdDSAVerify(montPub, message, sig)
		assert.NoError(t, err)
	})

	t.Run("RejectsTamperedMessage", func(t *testing.T) {
		kp, err := GenerateEd25519KeyPair()
		require.NoError(t, err)
		scalar, err := EdPrivToX25519Scalar(kp.Private)
		require.NoError(t, err)
		montPub, err := EdPubToX25519(kp.Public)
		require.NoError(t, err)

		sig, err := XEdDSASign(scalar, []byte("original"))
		require.NoError(t, err)

		err = XEdDSAVerify(montPub, []byte("tampered"), sig)
		assert.Error(t, err)
	})

	t.Run("RejectsWrongSigner", func(t *testing.T) {
		signer, err := GenerateEd25519KeyPair()
		require.NoError(t, err)
		other, err := GenerateEd25519KeyPair()
		require.NoError(t, err)

		scalar, err := EdPrivToX25519Scalar(signer.Private)
		require.NoError(t, err)
		otherMontPub, err := EdPubToX25519(other.Public)
		require.NoError(t, err)

		message := []byte("identity bound message")
		sig, err := XEdDSASign(scalar, message)
		require.NoError(t, err)

		err = XEdDSAVerify(otherMontPub, message, sig)
		assert.Error(t, err)
	})
}
