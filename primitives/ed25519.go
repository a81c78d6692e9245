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
	"crypto/ed25519"
	"crypto/rand"
)

// Ed25519KeyPair is the identity key pair Mode A signs with, carried as an
// X25519 (Montgomery) scalar underneath XEdDSA but generated and held in
// its native Edwards form so it can also serve plain Ed25519 verification
// where a peer has not yet negotiated a mode.
type Ed25519KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateEd25519KeyPair samples a fresh Ed25519 identity key pair.
func GenerateEd25519KeyPair() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errInternal("ed25519 keygen failed", err)
	}
	return &Ed25519KeyPair{Private: priv, Public: pub}, nil
}

// Zeroize overwrites the private key bytes.
func (kp *Ed25519KeyPair) Zeroize() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

// Ed25519Sign signs message with a plain Ed25519 signature (not XEdDSA).
// The handshake does not call it; mode-specific signing goes through
// package signer.
func Ed25519Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Ed25519Verify verifies a plain Ed25519 signature.
func Ed25519Verify(pub ed25519.PublicKey, message, sig []byte) error {
	if len(sig) != Ed25519SigSize || !ed25519.Verify(pub, message, sig) {
		return errVerificationFailed("ed25519 signature verification failed", nil)
	}
	return nil
}
