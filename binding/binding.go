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

// Package binding derives the three identifiers every other component
// threads through its key schedule and signatures: the fixed protocol_id,
// the per-handshake session_id, and the per-handshake mode_binding. No
// HKDF call anywhere in the core is permitted to omit these.
package binding

import (
	"strings"

	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/pkg/version"
	"github.com/b4ae-project/b4ae/primitives"
)

var protocolID [32]byte

func init() {
	protocolID = primitives.SHA3_256([]byte(canonicalString()))
}

// canonicalString builds the fixed string protocol_id is the digest of:
// the protocol version followed by every ciphersuite identifier in their
// declared order. Changing either value changes protocol_id for every
// peer built against it.
func canonicalString() string {
	var b strings.Builder
	b.WriteString(version.ProtocolVersion)
	for _, id := range version.CiphersuiteIDs {
		b.WriteByte('|')
		b.WriteString(id)
	}
	return b.String()
}

// ProtocolID returns the compile-time protocol identifier: SHA3-256 of the
// canonical protocol/ciphersuite string. It never changes at runtime.
func ProtocolID() []byte {
	out := make([]byte, 32)
	copy(out, protocolID[:])
	return out
}

// SessionID derives the 32-byte session identifier from the two handshake
// randoms and the negotiated mode byte.
func SessionID(clientRandom, serverRandom []byte, mode byte) ([]byte, error) {
	if len(clientRandom) != 32 || len(serverRandom) != 32 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake randoms must be 32 bytes", nil)
	}
	ikm := make([]byte, 0, 65)
	ikm = append(ikm, clientRandom...)
	ikm = append(ikm, serverRandom...)
	ikm = append(ikm, mode)
	return primitives.HKDF(ikm, []byte("B4AE-v2-session-id"), nil, 32)
}

// ModeBinding derives the 32-byte digest tying the negotiated mode into
// every signed handshake message.
func ModeBinding(clientRandom, serverRandom []byte, mode byte) ([]byte, error) {
	if len(clientRandom) != 32 || len(serverRandom) != 32 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake randoms must be 32 bytes", nil)
	}
	digest := primitives.SHA3_256([]byte("B4AE-v2-mode-binding"), clientRandom, serverRandom, []byte{mode})
	return digest[:], nil
}
