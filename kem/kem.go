// Copyright (C) 2025 b4ae-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package kem implements the hybrid X25519+Kyber1024 key encapsulation
// mechanism. The two component secrets are combined under a single HKDF
// call so the resulting shared secret is pseudorandom as long as either
// component KEM is IND-CCA secure.
package kem

import (
	"crypto/ecdh"
	"encoding/binary"

	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/primitives"
	"github.com/cloudflare/circl/kem/kyber/kyber1024"
)

const hybridKEMInfo = "B4AE-v2-hybrid-kem"

// HybridPublicKey is the (x25519, kyber1024) public key pair. Both halves
// are generated together and never carried independently.
type HybridPublicKey struct {
	X25519 []byte
	Kyber  *kyber1024.PublicKey
}

// HybridSecretKey is the (x25519, kyber1024) private key pair.
type HybridSecretKey struct {
	X25519  *ecdh.PrivateKey
	Kyber   *kyber1024.PrivateKey
	public  HybridPublicKey
}

// HybridCiphertext is the (ephemeral x25519 public key, kyber ciphertext)
// pair an encapsulator sends to a decapsulator.
type HybridCiphertext struct {
	EphPublicX25519 []byte
	KyberCiphertext []byte
}

// Public returns the public half of the key pair.
func (sk *HybridSecretKey) Public() *HybridPublicKey {
	return &sk.public
}

// Zeroize drops references to the secret material in both halves.
func (sk *HybridSecretKey) Zeroize() {
	sk.X25519 = nil
	sk.Kyber = nil
}

// Generate samples an independent X25519 keypair and Kyber1024 keypair.
func Generate() (*HybridSecretKey, error) {
	xkp, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	kkp, err := primitives.GenerateKyber1024KeyPair()
	if err != nil {
		return nil, err
	}
	pub := HybridPublicKey{X25519: xkp.PublicBytes(), Kyber: kkp.Public}
	return &HybridSecretKey{X25519: xkp.Private, Kyber: kkp.Private, public: pub}, nil
}

// Marshal serializes a HybridPublicKey with a 16-bit length prefix on the
// X25519 half (bounded to 256 bytes per the wire contract) followed by the
// fixed-length Kyber1024 encoding.
func (pk *HybridPublicKey) Marshal() ([]byte, error) {
	if len(pk.X25519) > 256 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "x25519 public key half exceeds 256 bytes", nil)
	}
	kyberBytes := make([]byte, kyber1024.PublicKeySize)
	pk.Kyber.Pack(kyberBytes)

	out := make([]byte, 0, 2+len(pk.X25519)+len(kyberBytes))
	out = binary.BigEndian.AppendUint16(out, uint16(len(pk.X25519)))
	out = append(out, pk.X25519...)
	out = append(out, kyberBytes...)
	return out, nil
}

// UnmarshalHybridPublicKey parses the wire format written by Marshal.
func UnmarshalHybridPublicKey(b []byte) (*HybridPublicKey, error) {
	if len(b) < 2 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "hybrid public key truncated", nil)
	}
	xLen := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if xLen > 256 || len(b) < xLen+kyber1024.PublicKeySize {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "hybrid public key has malformed length fields", nil)
	}
	xPub := make([]byte, xLen)
	copy(xPub, b[:xLen])
	b = b[xLen:]

	kyberPub, err := primitives.Kyber1024ParsePublicKey(b[:kyber1024.PublicKeySize])
	if err != nil {
		return nil, err
	}
	return &HybridPublicKey{X25519: xPub, Kyber: kyberPub}, nil
}

// Marshal serializes a HybridCiphertext the same way as HybridPublicKey:
// 16-bit length prefix on the X25519 ephemeral public key, then the fixed
// Kyber1024 ciphertext.
func (ct *HybridCiphertext) Marshal() ([]byte, error) {
	if len(ct.EphPublicX25519) > 256 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "ciphertext x25519 half exceeds 256 bytes", nil)
	}
	out := make([]byte, 0, 2+len(ct.EphPublicX25519)+len(ct.KyberCiphertext))
	out = binary.BigEndian.AppendUint16(out, uint16(len(ct.EphPublicX25519)))
	out = append(out, ct.EphPublicX25519...)
	out = append(out, ct.KyberCiphertext...)
	return out, nil
}

// UnmarshalHybridCiphertext parses the wire format written by Marshal.
func UnmarshalHybridCiphertext(b []byte) (*HybridCiphertext, error) {
	if len(b) < 2 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "hybrid ciphertext truncated", nil)
	}
	xLen := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if xLen > 256 || len(b) < xLen+kyber1024.CiphertextSize {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "hybrid ciphertext has malformed length fields", nil)
	}
	eph := make([]byte, xLen)
	copy(eph, b[:xLen])
	b = b[xLen:]
	kyberCT := make([]byte, kyber1024.CiphertextSize)
	copy(kyberCT, b[:kyber1024.CiphertextSize])
	return &HybridCiphertext{EphPublicX25519: eph, KyberCiphertext: kyberCT}, nil
}

// Encapsulate runs the hybrid encapsulation against peerPK, returning the
// ciphertext to send and the 32-byte combined shared secret. protocolID is
// used as the HKDF salt, binding the derived secret to the running
// protocol version.
func Encapsulate(peerPK *HybridPublicKey, protocolID []byte) (*HybridCiphertext, []byte, error) {
	ephKP, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, err
	}
	ssX, err := primitives.X25519DH(ephKP.Private, peerPK.X25519)
	if err != nil {
		return nil, nil, err
	}
	kyberCT, ssK, err := primitives.Kyber1024Encapsulate(peerPK.Kyber)
	if err != nil {
		return nil, nil, err
	}

	ikm := append(append([]byte{}, ssX...), ssK...)
	sharedSecret, err := primitives.HKDF(ikm, protocolID, []byte(hybridKEMInfo), primitives.AEADKeySize)
	clear(ssX)
	clear(ssK)
	clear(ikm)
	ephPub := ephKP.PublicBytes()
	ephKP.Zeroize()
	if err != nil {
		return nil, nil, err
	}

	return &HybridCiphertext{EphPublicX25519: ephPub, KyberCiphertext: kyberCT}, sharedSecret, nil
}

// Decapsulate mirrors Encapsulate from the recipient's side.
func Decapsulate(ownSK *HybridSecretKey, ct *HybridCiphertext, protocolID []byte) ([]byte, error) {
	ssX, err := primitives.X25519DH(ownSK.X25519, ct.EphPublicX25519)
	if err != nil {
		return nil, err
	}
	ssK, err := primitives.Kyber1024Decapsulate(ownSK.Kyber, ct.KyberCiphertext)
	if err != nil {
		return nil, err
	}

	ikm := append(append([]byte{}, ssX...), ssK...)
	sharedSecret, err := primitives.HKDF(ikm, protocolID, []byte(hybridKEMInfo), primitives.AEADKeySize)
	clear(ssX)
	clear(ssK)
	clear(ikm)
	if err != nil {
		return nil, err
	}
	return sharedSecret, nil
}

// CiphertextSize and PublicKeySize return the encoded length of a
// HybridCiphertext or HybridPublicKey whose X25519 half is xLen bytes;
// callers that need to budget frame sizes can use these without parsing.
func CiphertextSize(xLen int) int {
	return 2 + xLen + kyber1024.CiphertextSize
}

func PublicKeySize(xLen int) int {
	return 2 + xLen + kyber1024.PublicKeySize
}
