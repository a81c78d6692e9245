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
	"crypto/sha512"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"
)

// xeddsaNoncePrefix domain-separates the nonce hash from the commitment
// hash, following the XEdDSA construction: 32 bytes of 0xFE can never be
// a valid Ed25519 scalar encoding, so the two hashes can't collide.
var xeddsaNoncePrefix = func() []byte {
	p := make([]byte, 32)
	for i := range p {
		p[i] = 0xFE
	}
	return p
}()

// XEdDSASign signs message with the Montgomery (X25519) form of an Ed25519
// identity key, per the deniable Mode A handshake signature scheme. scalar
// is the clamped X25519 scalar from EdPrivToX25519Scalar.
func XEdDSASign(scalar, message []byte) ([]byte, error) {
	if len(scalar) != X25519KeySize {
		return nil, errInvalidInput("xeddsa scalar must be 32 bytes", nil)
	}
	a := new(edwards25519.Scalar)
	if _, err := a.SetBytesWithClamping(scalar); err != nil {
		return nil, errInternal("xeddsa failed to load scalar", err)
	}

	A := new(edwards25519.Point).ScalarBaseMult(a)
	aBytes := A.Bytes()
	if aBytes[31]&0x80 != 0 {
		// Force the encoded sign bit to zero so verification (which always
		// assumes sign zero) recovers the same point; negating the scalar
		// negates the point, flipping its sign bit back to zero.
		a.Negate(a)
		A = new(edwards25519.Point).ScalarBaseMult(a)
		aBytes = A.Bytes()
	}

	z := make([]byte, 64)
	if _, err := rand.Read(z); err != nil {
		return nil, errInternal("rng failure during xeddsa signing", err)
	}

	nonceHash := sha512.New()
	nonceHash.Write(xeddsaNoncePrefix)
	nonceHash.Write(a.Bytes())
	nonceHash.Write(message)
	nonceHash.Write(z)
	r := new(edwards25519.Scalar)
	if _, err := r.SetUniformBytes(nonceHash.Sum(nil)); err != nil {
		return nil, errInternal("xeddsa failed to derive nonce scalar", err)
	}

	R := new(edwards25519.Point).ScalarBaseMult(r)
	rBytes := R.Bytes()

	commitHash := sha512.New()
	commitHash.Write(rBytes)
	commitHash.Write(aBytes)
	commitHash.Write(message)
	h := new(edwards25519.Scalar)
	if _, err := h.SetUniformBytes(commitHash.Sum(nil)); err != nil {
		return nil, errInternal("xeddsa failed to derive challenge scalar", err)
	}

	s := new(edwards25519.Scalar).MultiplyAdd(h, a, r)

	sig := make([]byte, 64)
	copy(sig[:32], rBytes)
	copy(sig[32:], s.Bytes())
	return sig, nil
}

// XEdDSAVerify verifies a signature produced by XEdDSASign against the
// Montgomery (X25519) form of the signer's Ed25519 public key.
func XEdDSAVerify(montgomeryPub, message, sig []byte) error {
	if len(montgomeryPub) != X25519KeySize {
		return errInvalidInput("xeddsa public key must be 32 bytes", nil)
	}
	if len(sig) != 64 {
		return errVerificationFailed("xeddsa signature must be 64 bytes", nil)
	}

	aBytes, err := montgomeryToEdwardsSignZero(montgomeryPub)
	if err != nil {
		return errVerificationFailed("xeddsa public key does not map to a valid curve point", err)
	}
	A, err := new(edwards25519.Point).SetBytes(aBytes)
	if err != nil {
		return errVerificationFailed("xeddsa public key does not decode to a valid point", err)
	}

	rBytes := sig[:32]
	sBytes := sig[32:]
	s := new(edwards25519.Scalar)
	if _, err := s.SetCanonicalBytes(sBytes); err != nil {
		return errVerificationFailed("xeddsa signature scalar is not canonical", err)
	}

	commitHash := sha512.New()
	commitHash.Write(rBytes)
	commitHash.Write(aBytes)
	commitHash.Write(message)
	h := new(edwards25519.Scalar)
	if _, err := h.SetUniformBytes(commitHash.Sum(nil)); err != nil {
		return errInternal("xeddsa failed to derive challenge scalar", err)
	}

	// Check sB - hA == R.
	sB := new(edwards25519.Point).ScalarBaseMult(s)
	hA := new(edwards25519.Point).ScalarMult(h, A)
	RCheck := new(edwards25519.Point).Subtract(sB, hA)

	if !CTEqual(RCheck.Bytes(), rBytes) {
		return errVerificationFailed("xeddsa signature verification failed", nil)
	}
	return nil
}

// montgomeryToEdwardsSignZero maps a Montgomery u-coordinate to the
// corresponding Edwards point encoding with the sign bit forced to zero,
// via y = (u-1)/(u+1).
func montgomeryToEdwardsSignZero(u []byte) ([]byte, error) {
	var uFE field.Element
	if _, err := uFE.SetBytes(u); err != nil {
		return nil, err
	}
	one := new(field.Element).One()
	num := new(field.Element).Subtract(&uFE, one)
	den := new(field.Element).Add(&uFE, one)
	denInv := new(field.Element).Invert(den)
	y := new(field.Element).Multiply(num, denInv)

	out := y.Bytes()
	out[31] &= 0x7F
	return out, nil
}
