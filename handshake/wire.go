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

package handshake

import (
	"encoding/binary"

	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/kem"
	"github.com/b4ae-project/b4ae/primitives"
	"github.com/b4ae-project/b4ae/signer"
)

// protocolMajorVersion is the first byte of every framed handshake
// message. A peer advertising any other value is rejected before any
// other field is parsed.
const protocolMajorVersion = 0x02

type msgType uint16

const (
	msgTypeModeNegotiation msgType = iota + 1
	msgTypeModeSelection
	msgTypeClientHello
	msgTypeCookieChallenge
	msgTypeClientHelloWithCookie
	msgTypeHandshakeInit
	msgTypeHandshakeResponse
	msgTypeHandshakeComplete
)

// maxFrameLength is the largest payload the u16 length field can describe;
// frame rejects anything longer rather than writing a truncated length.
const maxFrameLength = 0xFFFF

// frame prepends the version byte, message type and u16 length to
// payload, producing the exact bytes that get hashed into the
// handshake transcript.
func frame(t msgType, payload []byte) ([]byte, error) {
	if len(payload) > maxFrameLength {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake frame exceeds maximum length", nil)
	}
	out := make([]byte, 0, 5+len(payload))
	out = append(out, protocolMajorVersion)
	out = binary.BigEndian.AppendUint16(out, uint16(t))
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// unframe validates the version byte and length field and splits a raw
// frame into its type and payload.
func unframe(raw []byte) (msgType, []byte, error) {
	if len(raw) < 5 {
		return 0, nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake frame truncated", nil)
	}
	if raw[0] != protocolMajorVersion {
		return 0, nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake protocol major version mismatch", nil)
	}
	t := msgType(binary.BigEndian.Uint16(raw[1:3]))
	length := int(binary.BigEndian.Uint16(raw[3:5]))
	if length > maxFrameLength || len(raw[5:]) != length {
		return 0, nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake frame length field does not match payload", nil)
	}
	return t, raw[5:], nil
}

// appendLP appends b as a u16-length-prefixed field, per the wire
// format convention that every variable-length field carries its own
// length.
func appendLP(out, b []byte) ([]byte, error) {
	if len(b) > 0xFFFF {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "field exceeds 16-bit length prefix", nil)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(b)))
	return append(out, b...), nil
}

// takeLP reads one u16-length-prefixed field from the front of b and
// returns the field plus the remainder.
func takeLP(b []byte) (field, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, logger.NewProtocolError(logger.CodeInvalidInput, "truncated length-prefixed field", nil)
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < n {
		return nil, nil, logger.NewProtocolError(logger.CodeInvalidInput, "length-prefixed field declares more bytes than present", nil)
	}
	return b[:n], b[n:], nil
}

func marshalSignature(sig *signer.HybridSignature) ([]byte, error) {
	var body []byte
	switch sig.Mode {
	case primitives.ModeA:
		if len(sig.XEdDSA) != primitives.Ed25519SigSize {
			return nil, logger.NewProtocolError(logger.CodeInvalidInput, "mode A signature has the wrong length", nil)
		}
		body = sig.XEdDSA
	case primitives.ModeB:
		if len(sig.Dilithium5) != primitives.Dilithium5SigSize {
			return nil, logger.NewProtocolError(logger.CodeInvalidInput, "mode B signature has the wrong length", nil)
		}
		body = sig.Dilithium5
	default:
		return nil, logger.NewProtocolError(logger.CodeNegotiationFailed, "mode C is reserved and must be rejected", nil)
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(sig.Mode))
	out = append(out, body...)
	return appendLP(nil, out)
}

func unmarshalSignature(b []byte) (*signer.HybridSignature, []byte, error) {
	field, rest, err := takeLP(b)
	if err != nil {
		return nil, nil, err
	}
	if len(field) < 1 {
		return nil, nil, logger.NewProtocolError(logger.CodeInvalidInput, "signature field is empty", nil)
	}
	mode := primitives.AuthenticationMode(field[0])
	body := field[1:]
	sig := &signer.HybridSignature{Mode: mode}
	switch mode {
	case primitives.ModeA:
		if len(body) != primitives.Ed25519SigSize {
			return nil, nil, logger.NewProtocolError(logger.CodeInvalidInput, "mode A signature has the wrong length", nil)
		}
		sig.XEdDSA = body
	case primitives.ModeB:
		if len(body) != primitives.Dilithium5SigSize {
			return nil, nil, logger.NewProtocolError(logger.CodeInvalidInput, "mode B signature has the wrong length", nil)
		}
		sig.Dilithium5 = body
	default:
		return nil, nil, logger.NewProtocolError(logger.CodeNegotiationFailed, "mode C is reserved and must be rejected", nil)
	}
	return sig, rest, nil
}

func marshalHybridPublicKey(pk *kem.HybridPublicKey) ([]byte, error) {
	b, err := pk.Marshal()
	if err != nil {
		return nil, err
	}
	return appendLP(nil, b)
}

func unmarshalHybridPublicKey(b []byte) (*kem.HybridPublicKey, []byte, error) {
	field, rest, err := takeLP(b)
	if err != nil {
		return nil, nil, err
	}
	pk, err := kem.UnmarshalHybridPublicKey(field)
	if err != nil {
		return nil, nil, err
	}
	return pk, rest, nil
}

func marshalHybridCiphertext(ct *kem.HybridCiphertext) ([]byte, error) {
	b, err := ct.Marshal()
	if err != nil {
		return nil, err
	}
	return appendLP(nil, b)
}

func unmarshalHybridCiphertext(b []byte) (*kem.HybridCiphertext, []byte, error) {
	field, rest, err := takeLP(b)
	if err != nil {
		return nil, nil, err
	}
	ct, err := kem.UnmarshalHybridCiphertext(field)
	if err != nil {
		return nil, nil, err
	}
	return ct, rest, nil
}

// modeNegotiationMsg is client_random(32) || supported_modes || preferred_mode(1).
type modeNegotiationMsg struct {
	ClientRandom   [32]byte
	SupportedModes []primitives.AuthenticationMode
	PreferredMode  primitives.AuthenticationMode
}

func (m *modeNegotiationMsg) marshal() ([]byte, error) {
	if len(m.SupportedModes) == 0 || len(m.SupportedModes) > 3 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "supported_modes must list between 1 and 3 modes", nil)
	}
	out := append([]byte{}, m.ClientRandom[:]...)
	modes := make([]byte, len(m.SupportedModes))
	for i, mode := range m.SupportedModes {
		modes[i] = byte(mode)
	}
	out, err := appendLP(out, modes)
	if err != nil {
		return nil, err
	}
	out = append(out, byte(m.PreferredMode))
	return out, nil
}

func parseModeNegotiationMsg(b []byte) (*modeNegotiationMsg, error) {
	if len(b) < 32 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "mode negotiation message truncated", nil)
	}
	m := &modeNegotiationMsg{}
	copy(m.ClientRandom[:], b[:32])
	rest := b[32:]
	modes, rest, err := takeLP(rest)
	if err != nil {
		return nil, err
	}
	if len(modes) == 0 || len(modes) > 3 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "supported_modes must list between 1 and 3 modes", nil)
	}
	for _, mb := range modes {
		m.SupportedModes = append(m.SupportedModes, primitives.AuthenticationMode(mb))
	}
	if len(rest) != 1 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "mode negotiation message has trailing or missing preferred_mode", nil)
	}
	m.PreferredMode = primitives.AuthenticationMode(rest[0])
	return m, nil
}

// modeSelectionMsg is server_random(32) || selected_mode(1).
type modeSelectionMsg struct {
	ServerRandom [32]byte
	SelectedMode primitives.AuthenticationMode
}

func (m *modeSelectionMsg) marshal() ([]byte, error) {
	out := append([]byte{}, m.ServerRandom[:]...)
	out = append(out, byte(m.SelectedMode))
	return out, nil
}

func parseModeSelectionMsg(b []byte) (*modeSelectionMsg, error) {
	if len(b) != 33 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "mode selection message has the wrong length", nil)
	}
	m := &modeSelectionMsg{}
	copy(m.ServerRandom[:], b[:32])
	m.SelectedMode = primitives.AuthenticationMode(b[32])
	return m, nil
}

// clientHelloMsg is client_random(32) || timestamp(8).
type clientHelloMsg struct {
	ClientRandom [32]byte
	Timestamp    uint64
}

func (m *clientHelloMsg) marshal() ([]byte, error) {
	out := append([]byte{}, m.ClientRandom[:]...)
	out = binary.BigEndian.AppendUint64(out, m.Timestamp)
	return out, nil
}

func parseClientHelloMsg(b []byte) (*clientHelloMsg, error) {
	if len(b) != 40 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "client hello message has the wrong length", nil)
	}
	m := &clientHelloMsg{}
	copy(m.ClientRandom[:], b[:32])
	m.Timestamp = binary.BigEndian.Uint64(b[32:40])
	return m, nil
}

// cookieChallengeMsg is cookie(32) || timestamp(8).
type cookieChallengeMsg struct {
	Cookie    [32]byte
	Timestamp uint64
}

func (m *cookieChallengeMsg) marshal() ([]byte, error) {
	out := append([]byte{}, m.Cookie[:]...)
	out = binary.BigEndian.AppendUint64(out, m.Timestamp)
	return out, nil
}

func parseCookieChallengeMsg(b []byte) (*cookieChallengeMsg, error) {
	if len(b) != 40 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "cookie challenge message has the wrong length", nil)
	}
	m := &cookieChallengeMsg{}
	copy(m.Cookie[:], b[:32])
	m.Timestamp = binary.BigEndian.Uint64(b[32:40])
	return m, nil
}

// handshakeInitMsg is client_hybrid_pk || mode_binding(32) || protocol_id(32) || sig_by_client_identity.
type handshakeInitMsg struct {
	ClientHybridPK *kem.HybridPublicKey
	ModeBinding    [32]byte
	ProtocolID     [32]byte
	Signature      *signer.HybridSignature
}

func (m *handshakeInitMsg) marshal() ([]byte, error) {
	out, err := marshalHybridPublicKey(m.ClientHybridPK)
	if err != nil {
		return nil, err
	}
	out = append(out, m.ModeBinding[:]...)
	out = append(out, m.ProtocolID[:]...)
	sigBytes, err := marshalSignature(m.Signature)
	if err != nil {
		return nil, err
	}
	return append(out, sigBytes...), nil
}

func parseHandshakeInitMsg(b []byte) (*handshakeInitMsg, error) {
	pk, rest, err := unmarshalHybridPublicKey(b)
	if err != nil {
		return nil, err
	}
	if len(rest) < 64 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake init message truncated", nil)
	}
	m := &handshakeInitMsg{ClientHybridPK: pk}
	copy(m.ModeBinding[:], rest[:32])
	copy(m.ProtocolID[:], rest[32:64])
	rest = rest[64:]
	sig, rest, err := unmarshalSignature(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake init message has trailing bytes", nil)
	}
	m.Signature = sig
	return m, nil
}

// clientHelloWithCookieMsg is client_random(32) || cookie(32) || timestamp(8) || handshake_init_body.
type clientHelloWithCookieMsg struct {
	ClientRandom   [32]byte
	Cookie         [32]byte
	Timestamp      uint64
	HandshakeInit  *handshakeInitMsg
	handshakeFrame []byte // the marshaled init message payload, without its frame header; marshal frames it
}

func (m *clientHelloWithCookieMsg) marshal() ([]byte, error) {
	out := append([]byte{}, m.ClientRandom[:]...)
	out = append(out, m.Cookie[:]...)
	out = binary.BigEndian.AppendUint64(out, m.Timestamp)
	initFrame, err := frame(msgTypeHandshakeInit, m.handshakeFrame)
	if err != nil {
		return nil, err
	}
	return append(out, initFrame...), nil
}

func parseClientHelloWithCookieMsg(b []byte) (*clientHelloWithCookieMsg, error) {
	if len(b) < 72 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "client hello with cookie message truncated", nil)
	}
	m := &clientHelloWithCookieMsg{}
	copy(m.ClientRandom[:], b[:32])
	copy(m.Cookie[:], b[32:64])
	m.Timestamp = binary.BigEndian.Uint64(b[64:72])
	t, payload, err := unframe(b[72:])
	if err != nil {
		return nil, err
	}
	if t != msgTypeHandshakeInit {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "client hello with cookie does not embed a handshake init frame", nil)
	}
	init, err := parseHandshakeInitMsg(payload)
	if err != nil {
		return nil, err
	}
	m.HandshakeInit = init
	m.handshakeFrame = payload
	return m, nil
}

// handshakeResponseMsg is server_hybrid_pk || kem_ciphertext || mode_binding(32) || protocol_id(32) || sig_by_server_identity.
type handshakeResponseMsg struct {
	ServerHybridPK *kem.HybridPublicKey
	KEMCiphertext  *kem.HybridCiphertext
	ModeBinding    [32]byte
	ProtocolID     [32]byte
	Signature      *signer.HybridSignature
}

func (m *handshakeResponseMsg) marshal() ([]byte, error) {
	out, err := marshalHybridPublicKey(m.ServerHybridPK)
	if err != nil {
		return nil, err
	}
	ctBytes, err := marshalHybridCiphertext(m.KEMCiphertext)
	if err != nil {
		return nil, err
	}
	out = append(out, ctBytes...)
	out = append(out, m.ModeBinding[:]...)
	out = append(out, m.ProtocolID[:]...)
	sigBytes, err := marshalSignature(m.Signature)
	if err != nil {
		return nil, err
	}
	return append(out, sigBytes...), nil
}

func parseHandshakeResponseMsg(b []byte) (*handshakeResponseMsg, error) {
	pk, rest, err := unmarshalHybridPublicKey(b)
	if err != nil {
		return nil, err
	}
	ct, rest, err := unmarshalHybridCiphertext(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 64 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake response message truncated", nil)
	}
	m := &handshakeResponseMsg{ServerHybridPK: pk, KEMCiphertext: ct}
	copy(m.ModeBinding[:], rest[:32])
	copy(m.ProtocolID[:], rest[32:64])
	rest = rest[64:]
	sig, rest, err := unmarshalSignature(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake response message has trailing bytes", nil)
	}
	m.Signature = sig
	return m, nil
}

// handshakeCompleteMsg is confirmation(32) || sig_by_client_identity.
type handshakeCompleteMsg struct {
	Confirmation [32]byte
	Signature    *signer.HybridSignature
}

func (m *handshakeCompleteMsg) marshal() ([]byte, error) {
	out := append([]byte{}, m.Confirmation[:]...)
	sigBytes, err := marshalSignature(m.Signature)
	if err != nil {
		return nil, err
	}
	return append(out, sigBytes...), nil
}

func parseHandshakeCompleteMsg(b []byte) (*handshakeCompleteMsg, error) {
	if len(b) < 32 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake complete message truncated", nil)
	}
	m := &handshakeCompleteMsg{}
	copy(m.Confirmation[:], b[:32])
	sig, rest, err := unmarshalSignature(b[32:])
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "handshake complete message has trailing bytes", nil)
	}
	m.Signature = sig
	return m, nil
}
