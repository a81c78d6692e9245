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

// Package primitives wraps every cryptographic building block the
// protocol core consumes (AEAD, hashes, HKDF, X25519, Kyber1024, XEdDSA,
// Dilithium5, HMAC, constant-time comparison) behind a small surface with
// explicit sizes and the shared error taxonomy. Higher-level packages
// (kem, signer, cookie, handshake, ratchet) never import a crypto library
// directly; they call through here so every primitive failure is tagged
// consistently and every secret buffer is zeroized on the error path.
package primitives
