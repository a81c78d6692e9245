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
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEADSeal encrypts plaintext with ChaCha20-Poly1305 under key/nonce,
// authenticating aad. key must be AEADKeySize bytes and nonce must be
// AEADNonceSize bytes.
func AEADSeal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errInvalidInput(fmt.Sprintf("aead nonce must be %d bytes", aead.NonceSize()), nil)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AEADOpen decrypts and authenticates ciphertext produced by AEADSeal.
// On tag mismatch it returns AuthenticationFailed without leaking any
// timing signal tied to where the mismatch occurred (Open's constant-time
// tag comparison is part of the standard library's contract).
func AEADOpen(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errInvalidInput(fmt.Sprintf("aead nonce must be %d bytes", aead.NonceSize()), nil)
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errAuthenticationFailed("aead tag verification failed", err)
	}
	return pt, nil
}

func newAEAD(key []byte) (interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}, error) {
	if len(key) != AEADKeySize {
		return nil, errInvalidInput(fmt.Sprintf("aead key must be %d bytes", AEADKeySize), nil)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errInternal("failed to construct aead cipher", err)
	}
	return aead, nil
}
