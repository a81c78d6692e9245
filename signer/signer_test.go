package signer

import (
	"testing"

	"github.com/b4ae-project/b4ae/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeASignerRoundTrip(t *testing.T) {
	identity, err := primitives.GenerateEd25519KeyPair()
	require.NoError(t, err)

	s, err := NewModeASigner(identity)
	require.NoError(t, err)
	assert.Equal(t, primitives.ModeA, s.Mode())

	transcript := []byte("handshake transcript bytes")
	sig, err := s.Sign(transcript)
	require.NoError(t, err)
	assert.Equal(t, primitives.ModeA, sig.Mode)
	assert.NotEmpty(t, sig.XEdDSA)
	assert.Empty(t, sig.Dilithium5)

	require.NoError(t, s.Verify(transcript, sig))
}

func TestModeBSignerRoundTrip(t *testing.T) {
	identity, err := primitives.GenerateDilithium5KeyPair()
	require.NoError(t, err)

	s := NewModeBSigner(identity)
	assert.Equal(t, primitives.ModeB, s.Mode())

	transcript := []byte("handshake transcript bytes")
	sig, err := s.Sign(transcript)
	require.NoError(t, err)
	assert.Equal(t, primitives.ModeB, sig.Mode)
	assert.NotEmpty(t, sig.Dilithium5)
	assert.Empty(t, sig.XEdDSA)

	require.NoError(t, s.Verify(transcript, sig))
}

func TestCrossModeVerificationRejected(t *testing.T) {
	modeAIdentity, err := primitives.GenerateEd25519KeyPair()
	require.NoError(t, err)
	modeASigner, err := NewModeASigner(modeAIdentity)
	require.NoError(t, err)

	modeBIdentity, err := primitives.GenerateDilithium5KeyPair()
	require.NoError(t, err)
	modeBSigner := NewModeBSigner(modeBIdentity)

	transcript := []byte("handshake transcript bytes")
	sigA, err := modeASigner.Sign(transcript)
	require.NoError(t, err)

	err = modeBSigner.Verify(transcript, sigA)
	assert.Error(t, err)
}

func TestVerifyRemoteRejectsModeC(t *testing.T) {
	sig := &HybridSignature{Mode: primitives.ModeC}
	err := VerifyRemote(primitives.ModeC, nil, nil, []byte("transcript"), sig)
	assert.Error(t, err)
}
