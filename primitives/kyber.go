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
	"crypto/rand"

	"github.com/cloudflare/circl/kem/kyber/kyber1024"
)

// Kyber1024KeyPair holds a post-quantum KEM key pair.
type Kyber1024KeyPair struct {
	Public  *kyber1024.PublicKey
	Private *kyber1024.PrivateKey
}

// GenerateKyber1024KeyPair samples a fresh Kyber1024 key pair.
func GenerateKyber1024KeyPair() (*Kyber1024KeyPair, error) {
	pub, priv, err := kyber1024.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, errInternal("kyber1024 keygen failed", err)
	}
	return &Kyber1024KeyPair{Public: pub, Private: priv}, nil
}

// PublicBytes returns the fixed-length wire encoding of the public key.
func (kp *Kyber1024KeyPair) PublicBytes() []byte {
	buf := make([]byte, kyber1024.PublicKeySize)
	kp.Public.Pack(buf)
	return buf
}

// Kyber1024ParsePublicKey decodes a public key from its wire encoding.
func Kyber1024ParsePublicKey(b []byte) (*kyber1024.PublicKey, error) {
	if len(b) != kyber1024.PublicKeySize {
		return nil, errInvalidInput("kyber1024 public key has wrong length", nil)
	}
	var pk kyber1024.PublicKey
	pk.Unpack(b)
	return &pk, nil
}

// Kyber1024Encapsulate generates a ciphertext and shared secret against
// peerPub. The shared secret here is the raw KEM output; callers combine
// it with the X25519 half via HKDF before use (see package kem).
func Kyber1024Encapsulate(peerPub *kyber1024.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	ct := make([]byte, kyber1024.CiphertextSize)
	ss := make([]byte, kyber1024.SharedKeySize)
	seed := make([]byte, kyber1024.EncapsulationSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, errInternal("rng failure during kyber encapsulation", err)
	}
	peerPub.EncapsulateTo(ct, ss, seed)
	return ct, ss, nil
}

// Kyber1024Decapsulate recovers the shared secret from ciphertext using
// own private key.
func Kyber1024Decapsulate(priv *kyber1024.PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != kyber1024.CiphertextSize {
		return nil, errInvalidInput("kyber1024 ciphertext has wrong length", nil)
	}
	ss := make([]byte, kyber1024.SharedKeySize)
	priv.DecapsulateTo(ss, ciphertext)
	return ss, nil
}
