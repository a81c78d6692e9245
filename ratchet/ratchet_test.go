package ratchet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b4ae-project/b4ae/binding"
	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/primitives"
)

func newSessionPair(t *testing.T) (*RatchetState, *RatchetState) {
	t.Helper()

	masterSecret := make([]byte, 32)
	for i := range masterSecret {
		masterSecret[i] = byte(i)
	}
	clientRandom := bytesOf(0xAA)
	serverRandom := bytesOf(0xBB)
	sessionID, err := binding.SessionID(clientRandom, serverRandom, byte(primitives.ModeA))
	require.NoError(t, err)
	protocolID := binding.ProtocolID()

	aliceRatchetKP, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)
	bobRatchetKP, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	opts := Options{RatchetInterval: 100, CacheCap: 1000, MaxSkip: 1000}

	alice, err := Init(masterSecret, protocolID, sessionID, primitives.ModeA, true, aliceRatchetKP, bobRatchetKP.PublicBytes(), opts)
	require.NoError(t, err)
	bob, err := Init(masterSecret, protocolID, sessionID, primitives.ModeA, false, bobRatchetKP, aliceRatchetKP.PublicBytes(), opts)
	require.NoError(t, err)
	return alice, bob
}

func bytesOf(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, bob := newSessionPair(t)

	msg, err := alice.Encrypt([]byte("hello bob"))
	require.NoError(t, err)

	pt, err := bob.Decrypt(msg)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(pt))
}

func TestInOrderDeliveryAcrossManyMessages(t *testing.T) {
	alice, bob := newSessionPair(t)

	for i := 0; i < 100; i++ {
		msg, err := alice.Encrypt([]byte("m"))
		require.NoError(t, err)
		pt, err := bob.Decrypt(msg)
		require.NoError(t, err)
		assert.Equal(t, "m", string(pt))
	}
	assert.Equal(t, uint64(100), bob.recvCounter)
}

func TestOutOfOrderDeliveryCachesSkippedKeys(t *testing.T) {
	alice, bob := newSessionPair(t)

	var messages []*Message
	for i := 0; i < 100; i++ {
		msg, err := alice.Encrypt([]byte("m"))
		require.NoError(t, err)
		messages = append(messages, msg)
	}

	// Deliver message 99 first, then 0..98 in order.
	_, err := bob.Decrypt(messages[99])
	require.NoError(t, err)
	assert.LessOrEqual(t, bob.skipped.Len(), 99)

	for i := 0; i < 99; i++ {
		pt, err := bob.Decrypt(messages[i])
		require.NoError(t, err)
		assert.Equal(t, "m", string(pt))
	}
	assert.Equal(t, 0, bob.skipped.Len())
}

func TestSkipLimitBreachIsRejected(t *testing.T) {
	alice, bob := newSessionPair(t)
	alice.opts.MaxSkip = 1000
	bob.opts.MaxSkip = 1000
	alice.opts.RatchetInterval = math.MaxUint64
	bob.opts.RatchetInterval = math.MaxUint64

	var last *Message
	for i := 0; i < 1002; i++ {
		msg, err := alice.Encrypt([]byte("m"))
		require.NoError(t, err)
		last = msg
	}

	_, err := bob.Decrypt(last)
	require.Error(t, err)
	assert.True(t, primitives.IsAuthenticationFailure(err))
}

func TestReplayIsRejected(t *testing.T) {
	alice, bob := newSessionPair(t)

	msg, err := alice.Encrypt([]byte("once"))
	require.NoError(t, err)
	_, err = bob.Decrypt(msg)
	require.NoError(t, err)

	_, err = bob.Decrypt(msg)
	require.Error(t, err)
	assert.True(t, primitives.IsAuthenticationFailure(err))
}

func TestRatchetCountRegressionIsRejectedOnceUncached(t *testing.T) {
	alice, bob := newSessionPair(t)
	alice.opts.MaxSkip = 1
	bob.opts.MaxSkip = 1

	for i := 0; i < 101; i++ {
		msg, err := alice.Encrypt([]byte("m"))
		require.NoError(t, err)
		_, err = bob.Decrypt(msg)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(1), bob.ratchetCount)

	// A stale message from the superseded ratchet epoch, beyond the
	// cached grace window, must be rejected.
	stale := &Message{RatchetCount: 0, Counter: 0, Ciphertext: []byte("garbage")}
	_, err := bob.Decrypt(stale)
	require.Error(t, err)
	assert.True(t, primitives.IsAuthenticationFailure(err))
}

func TestDHRatchetStepAdvancesBothSides(t *testing.T) {
	alice, bob := newSessionPair(t)
	alice.opts.RatchetInterval = 10
	bob.opts.RatchetInterval = 10

	for i := 0; i < 11; i++ {
		msg, err := alice.Encrypt([]byte("m"))
		require.NoError(t, err)
		_, err = bob.Decrypt(msg)
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(1), alice.ratchetCount)
	assert.Equal(t, uint64(1), bob.ratchetCount)
	assert.Equal(t, alice.rootKey, bob.rootKey)
}

func TestSequenceExhaustion(t *testing.T) {
	alice, _ := newSessionPair(t)
	alice.opts.RatchetInterval = math.MaxUint64
	alice.sendCounter = math.MaxUint64 - 1

	_, err := alice.Encrypt([]byte("last valid message"))
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), alice.sendCounter)

	_, err = alice.Encrypt([]byte("one too many"))
	require.Error(t, err)
	assert.True(t, logger.IsCode(err, logger.CodeSequenceExhausted))
}
