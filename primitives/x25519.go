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

package primitives

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"

	"filippo.io/edwards25519"
)

// X25519KeyPair holds an X25519 private key and its public counterpart.
// Both fields are generated together and zeroized together by Zeroize.
type X25519KeyPair struct {
	Private *ecdh.PrivateKey
	Public  *ecdh.PublicKey
}

// GenerateX25519KeyPair samples a fresh X25519 key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errInternal("x25519 keygen failed", err)
	}
	return &X25519KeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// PublicBytes returns the 32-byte wire encoding of the public key.
func (kp *X25519KeyPair) PublicBytes() []byte {
	return kp.Public.Bytes()
}

// Zeroize overwrites the key pair's in-memory representation. ecdh.PrivateKey
// does not expose its scalar for direct wiping, so the pair is simply
// dropped; callers must not retain other references to it.
func (kp *X25519KeyPair) Zeroize() {
	kp.Private = nil
	kp.Public = nil
}

// X25519DH performs the Diffie-Hellman exchange and returns the raw 32-byte
// shared point. Callers MUST run the result through HKDF before use; the
// raw ECDH output is never a usable key on its own.
func X25519DH(priv *ecdh.PrivateKey, peerPubBytes []byte) ([]byte, error) {
	if len(peerPubBytes) != X25519KeySize {
		return nil, errInvalidInput(fmt.Sprintf("x25519 public key must be %d bytes", X25519KeySize), nil)
	}
	peerPub, err := ecdh.X25519().NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, errInvalidInput("malformed x25519 public key", err)
	}
	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, errInternal("x25519 dh failed", err)
	}
	var zero [X25519SharedSize]byte
	if subtle.ConstantTimeCompare(shared, zero[:]) == 1 {
		return nil, errInternal("x25519 dh produced a low-order point", nil)
	}
	return shared, nil
}

// EdPrivToX25519Scalar derives the X25519 clamped scalar from an Ed25519
// private key, the deterministic transform XEdDSA signing relies on
// (RFC 8032 §5.1.5 clamping applied to SHA-512(seed)).
func EdPrivToX25519Scalar(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errInvalidInput("malformed ed25519 private key", nil)
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	scalar := make([]byte, X25519KeySize)
	copy(scalar, h[:X25519KeySize])
	return scalar, nil
}

// EdPubToX25519 converts an Ed25519 public key (an Edwards point) to its
// Montgomery-form X25519 public key, the conversion XEdDSA verification
// applies to the carried identity key.
func EdPubToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, errInvalidInput("malformed ed25519 public key", nil)
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, errInvalidInput("invalid ed25519 public key encoding", err)
	}
	return p.BytesMontgomery(), nil
}
