package primitives

import (
	"fmt"

	"github.com/b4ae-project/b4ae/internal/logger"
)

// Declared sizes in bytes, per the protocol's primitive contracts.
const (
	X25519KeySize     = 32
	X25519SharedSize  = 32
	Kyber1024PKSize   = 1568
	Kyber1024SKSize   = 3168
	Kyber1024CTSize   = 1568
	Kyber1024SSSize   = 32
	Ed25519KeySize    = 32
	Ed25519SigSize    = 64
	Dilithium5PKSize  = 2592
	Dilithium5SKSize  = 4864
	Dilithium5SigSize = 4595
	SHA3_256Size      = 32
	SHA512Size        = 64
	AEADKeySize       = 32
	AEADNonceSize     = 12
	AEADTagSize       = 16
)

// AuthenticationMode is the negotiated handshake mode, a tagged variant
// rather than a bitmask: callers switch on it, they never OR it together.
type AuthenticationMode byte

const (
	ModeA AuthenticationMode = 0x01 // deniable, XEdDSA
	ModeB AuthenticationMode = 0x02 // post-quantum, Dilithium5
	ModeC AuthenticationMode = 0x03 // reserved; conforming implementations MUST reject it
)

func (m AuthenticationMode) String() string {
	switch m {
	case ModeA:
		return "ModeA"
	case ModeB:
		return "ModeB"
	case ModeC:
		return "ModeC"
	default:
		return fmt.Sprintf("AuthenticationMode(0x%02x)", byte(m))
	}
}

// Valid reports whether m is one of the two usable modes. ModeC is
// explicitly reserved and never valid, even though it parses as a
// well-formed byte.
func (m AuthenticationMode) Valid() bool {
	return m == ModeA || m == ModeB
}

// errInvalidInput, errInternal and friends are convenience constructors
// so every primitive in this package tags failures the same way instead
// of returning bare fmt.Errorf values.
func errInvalidInput(msg string, cause error) error {
	return logger.NewProtocolError(logger.CodeInvalidInput, msg, cause)
}

func errVerificationFailed(msg string, cause error) error {
	return logger.NewProtocolError(logger.CodeVerificationFailed, msg, cause)
}

func errInternal(msg string, cause error) error {
	return logger.NewProtocolError(logger.CodeInternal, msg, cause)
}

func errAuthenticationFailed(msg string, cause error) error {
	return logger.NewProtocolError(logger.CodeAuthenticationFailed, msg, cause)
}

// IsAuthenticationFailure reports whether err is tagged as an
// authentication failure (e.g. an AEAD tag mismatch), for callers that
// need to distinguish it from malformed input or internal errors.
func IsAuthenticationFailure(err error) bool {
	return logger.IsCode(err, logger.CodeAuthenticationFailed)
}
