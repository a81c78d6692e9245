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
	"github.com/cloudflare/circl/sign/dilithium/mode5"
)

// Dilithium5KeyPair is the identity key pair Mode B signs with.
type Dilithium5KeyPair struct {
	Public  *mode5.PublicKey
	Private *mode5.PrivateKey
}

// GenerateDilithium5KeyPair samples a fresh Dilithium5 key pair.
func GenerateDilithium5KeyPair() (*Dilithium5KeyPair, error) {
	pub, priv, err := mode5.GenerateKey(nil)
	if err != nil {
		return nil, errInternal("dilithium5 keygen failed", err)
	}
	return &Dilithium5KeyPair{Public: pub, Private: priv}, nil
}

// PublicBytes returns the wire encoding of the public key.
func (kp *Dilithium5KeyPair) PublicBytes() []byte {
	var packed [mode5.PublicKeySize]byte
	kp.Public.Pack(&packed)
	buf := make([]byte, mode5.PublicKeySize)
	copy(buf, packed[:])
	return buf
}

// Dilithium5ParsePublicKey decodes a public key from its wire encoding.
func Dilithium5ParsePublicKey(b []byte) (*mode5.PublicKey, error) {
	if len(b) != mode5.PublicKeySize {
		return nil, errInvalidInput("dilithium5 public key has wrong length", nil)
	}
	var packed [mode5.PublicKeySize]byte
	copy(packed[:], b)
	var pk mode5.PublicKey
	pk.Unpack(&packed)
	return &pk, nil
}

// Dilithium5Sign signs message with the post-quantum identity key.
func Dilithium5Sign(priv *mode5.PrivateKey, message []byte) []byte {
	sig := make([]byte, mode5.SignatureSize)
	mode5.SignTo(priv, message, sig)
	return sig
}

// Dilithium5Verify verifies a Dilithium5 signature.
func Dilithium5Verify(pub *mode5.PublicKey, message, sig []byte) error {
	if len(sig) != mode5.SignatureSize || !mode5.Verify(pub, message, sig) {
		return errVerificationFailed("dilithium5 signature verification failed", nil)
	}
	return nil
}

// Zeroize drops the key pair's reference to the private key. The
// mode5.PrivateKey value itself is not overwritten.
func (kp *Dilithium5KeyPair) Zeroize() {
	kp.Private = nil
}
