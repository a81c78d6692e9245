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

// Package handshake drives the five-state negotiation that turns a pair
// of identity keys into an established Double Ratchet session: mode
// negotiation, a stateless cookie challenge, the hybrid key exchange,
// and mutual confirmation. Transport is abstracted behind Transport so
// the state machine itself never touches a socket.
package handshake

import (
	"context"
	cryptorand "crypto/rand"
	"time"

	"github.com/cloudflare/circl/sign/dilithium/mode5"

	"github.com/b4ae-project/b4ae/binding"
	"github.com/b4ae-project/b4ae/cookie"
	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/internal/metrics"
	"github.com/b4ae-project/b4ae/kem"
	"github.com/b4ae-project/b4ae/primitives"
	"github.com/b4ae-project/b4ae/ratchet"
	"github.com/b4ae-project/b4ae/signer"
)

// State names a handshake phase: four in-progress states followed by the
// two terminal states, Established and Failed. RunInitiator and
// RunResponder are straight-line functions that pass through the phases
// in order and never return to an earlier one.
type State int

const (
	StateInit State = iota
	StateModeNegotiation
	StateCookieChallenge
	StateHandshake
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateModeNegotiation:
		return "mode_negotiation"
	case StateCookieChallenge:
		return "cookie_challenge"
	case StateHandshake:
		return "handshake"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// defaultStateTimeout is the per-state deadline the spec fixes at 30s.
const defaultStateTimeout = 30 * time.Second

// Transport carries one framed handshake message per call in each
// direction. Implementations are free to be backed by a socket, a
// channel pair, or anything else; the state machine never frames raw
// reads itself beyond what wire.go already does.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// Identity bundles the signing and verification material a handshake
// participant needs. Signers must cover every mode listed in the
// corresponding SupportedModes; the peer's verification keys are
// supplied out of band by the caller, since identity resolution is
// outside this package's scope.
type Identity struct {
	Signers           map[primitives.AuthenticationMode]signer.Signer
	PeerMontgomeryPub []byte
	PeerDilithiumPub  *mode5.PublicKey
}

// Result is what a successfully established handshake hands back: the
// session identifier, the negotiated mode, and a ratchet session ready
// to encrypt and decrypt.
type Result struct {
	SessionID []byte
	Mode      primitives.AuthenticationMode
	Ratchet   *ratchet.RatchetState
}

// InitiatorConfig configures the client side of a handshake.
type InitiatorConfig struct {
	Identity
	SupportedModes []primitives.AuthenticationMode
	PreferredMode  primitives.AuthenticationMode
	StateTimeout   time.Duration
	RatchetOptions ratchet.Options
}

// ResponderConfig configures the server side of a handshake.
type ResponderConfig struct {
	Identity
	SupportedModes []primitives.AuthenticationMode
	ClientAddr     []byte
	StateTimeout   time.Duration
	RatchetOptions ratchet.Options
}

func (c *InitiatorConfig) timeout() time.Duration {
	if c.StateTimeout <= 0 {
		return defaultStateTimeout
	}
	return c.StateTimeout
}

func (c *ResponderConfig) timeout() time.Duration {
	if c.StateTimeout <= 0 {
		return defaultStateTimeout
	}
	return c.StateTimeout
}

func modeInSet(set []primitives.AuthenticationMode, m primitives.AuthenticationMode) bool {
	for _, s := range set {
		if s == m {
			return true
		}
	}
	return false
}

// selectMode implements the negotiation rule: the intersection of both
// sides' supported sets, preferring the client's choice when it is in
// the intersection, otherwise falling back to server priority B > A > C.
func selectMode(clientSupported []primitives.AuthenticationMode, clientPreferred primitives.AuthenticationMode, serverSupported []primitives.AuthenticationMode) (primitives.AuthenticationMode, error) {
	var intersection []primitives.AuthenticationMode
	for _, m := range clientSupported {
		if modeInSet(serverSupported, m) {
			intersection = append(intersection, m)
		}
	}
	if len(intersection) == 0 {
		return 0, logger.NewProtocolError(logger.CodeNegotiationFailed, "no mode is supported by both peers", nil)
	}
	if modeInSet(intersection, clientPreferred) {
		return clientPreferred, nil
	}
	for _, m := range []primitives.AuthenticationMode{primitives.ModeB, primitives.ModeA, primitives.ModeC} {
		if modeInSet(intersection, m) {
			if !m.Valid() {
				return 0, logger.NewProtocolError(logger.CodeNegotiationFailed, "mode C is reserved and must be rejected", nil)
			}
			return m, nil
		}
	}
	return 0, logger.NewProtocolError(logger.CodeInternal, "mode negotiation reached an unreachable branch", nil)
}

func randomBytes32() ([32]byte, error) {
	var b [32]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return b, logger.NewProtocolError(logger.CodeInternal, "failed to sample handshake randomness", err)
	}
	return b, nil
}

// transcript hashes protocol_id followed by every frame exchanged before
// the Handshake state begins: ModeNegotiation, ModeSelection,
// ClientHello, CookieChallenge, in that order on both sides.
func transcriptHash(protocolID []byte, frames [][]byte) []byte {
	digest := primitives.SHA512(protocolID, frames[0], frames[1], frames[2], frames[3])
	return digest[:]
}

func sendFrame(ctx context.Context, t Transport, timeout time.Duration, typ msgType, payload []byte) ([]byte, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	f, err := frame(typ, payload)
	if err != nil {
		return nil, err
	}
	if err := t.Send(stepCtx, f); err != nil {
		if stepCtx.Err() != nil {
			return nil, logger.NewProtocolError(logger.CodeTimeout, "timed out sending handshake message", err)
		}
		return nil, err
	}
	return f, nil
}

func receiveFrame(ctx context.Context, t Transport, timeout time.Duration, want msgType) (msgType, []byte, []byte, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	raw, err := t.Receive(stepCtx)
	if err != nil {
		if stepCtx.Err() != nil {
			return 0, nil, nil, logger.NewProtocolError(logger.CodeTimeout, "timed out waiting for handshake message", err)
		}
		return 0, nil, nil, err
	}
	typ, payload, err := unframe(raw)
	if err != nil {
		return 0, nil, nil, err
	}
	if typ != want {
		return 0, nil, nil, logger.NewProtocolError(logger.CodeInvalidInput, "received handshake message out of sequence", nil)
	}
	return typ, payload, raw, nil
}

// RunInitiator drives the client side of the handshake to completion or
// failure. On any error the handshake is considered Failed and no
// ratchet is installed.
func RunInitiator(ctx context.Context, t Transport, cfg InitiatorConfig) (*Result, error) {
	metrics.HandshakesInitiated.WithLabelValues("client").Inc()
	start := time.Now()
	result, err := runInitiatorInner(ctx, t, cfg)
	metrics.HandshakeDuration.WithLabelValues("client").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		metrics.HandshakesFailed.WithLabelValues(handshakeErrorType(err)).Inc()
	} else {
		metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	}
	return result, err
}

func runInitiatorInner(ctx context.Context, t Transport, cfg InitiatorConfig) (*Result, error) {
	timeout := cfg.timeout()
	protocolID := binding.ProtocolID()
	var frames [][]byte

	clientRandom, err := randomBytes32()
	if err != nil {
		return nil, err
	}

	// StateModeNegotiation.
	neg := &modeNegotiationMsg{ClientRandom: clientRandom, SupportedModes: cfg.SupportedModes, PreferredMode: cfg.PreferredMode}
	negPayload, err := neg.marshal()
	if err != nil {
		return nil, err
	}
	negFrame, err := sendFrame(ctx, t, timeout, msgTypeModeNegotiation, negPayload)
	if err != nil {
		return nil, err
	}
	frames = append(frames, negFrame)

	_, selPayload, selFrame, err := receiveFrame(ctx, t, timeout, msgTypeModeSelection)
	if err != nil {
		return nil, err
	}
	sel, err := parseModeSelectionMsg(selPayload)
	if err != nil {
		return nil, err
	}
	if !sel.SelectedMode.Valid() {
		return nil, logger.NewProtocolError(logger.CodeNegotiationFailed, "mode C is reserved and must be rejected", nil)
	}
	if !modeInSet(cfg.SupportedModes, sel.SelectedMode) {
		return nil, logger.NewProtocolError(logger.CodeNegotiationFailed, "server selected a mode the client does not support", nil)
	}
	mode := sel.SelectedMode
	serverRandom := sel.ServerRandom
	frames = append(frames, selFrame)

	modeBinding, err := binding.ModeBinding(clientRandom[:], serverRandom[:], byte(mode))
	if err != nil {
		return nil, err
	}

	// StateCookieChallenge.
	helloTimestamp := uint64(time.Now().Unix())
	hello := &clientHelloMsg{ClientRandom: clientRandom, Timestamp: helloTimestamp}
	helloPayload, err := hello.marshal()
	if err != nil {
		return nil, err
	}
	helloFrame, err := sendFrame(ctx, t, timeout, msgTypeClientHello, helloPayload)
	if err != nil {
		return nil, err
	}
	frames = append(frames, helloFrame)

	_, challengePayload, challengeFrame, err := receiveFrame(ctx, t, timeout, msgTypeCookieChallenge)
	if err != nil {
		return nil, err
	}
	challenge, err := parseCookieChallengeMsg(challengePayload)
	if err != nil {
		return nil, err
	}
	frames = append(frames, challengeFrame)

	// StateHandshake. The transcript is frozen now: every prior framed
	// message and nothing that follows.
	transcript := transcriptHash(protocolID, frames)

	ownHybridSK, err := kem.Generate()
	if err != nil {
		return nil, err
	}
	initSigner, ok := cfg.Signers[mode]
	if !ok {
		return nil, logger.NewProtocolError(logger.CodeInternal, "no signer configured for the negotiated mode", nil)
	}
	initSig, err := initSigner.Sign(append(append([]byte{}, transcript...), modeBinding...))
	if err != nil {
		return nil, err
	}
	init := &handshakeInitMsg{ClientHybridPK: ownHybridSK.Public(), Signature: initSig}
	copy(init.ModeBinding[:], modeBinding)
	copy(init.ProtocolID[:], protocolID)
	initPayload, err := init.marshal()
	if err != nil {
		return nil, err
	}

	chwc := &clientHelloWithCookieMsg{ClientRandom: clientRandom, Cookie: challenge.Cookie, Timestamp: uint64(time.Now().Unix()), handshakeFrame: initPayload}
	chwcPayload, err := chwc.marshal()
	if err != nil {
		return nil, err
	}
	if _, err := sendFrame(ctx, t, timeout, msgTypeClientHelloWithCookie, chwcPayload); err != nil {
		return nil, err
	}

	_, respPayload, _, err := receiveFrame(ctx, t, timeout, msgTypeHandshakeResponse)
	if err != nil {
		return nil, err
	}
	resp, err := parseHandshakeResponseMsg(respPayload)
	if err != nil {
		return nil, err
	}
	if !primitives.CTEqual(resp.ProtocolID[:], protocolID) {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "protocol_id mismatch in handshake response", nil)
	}
	if !primitives.CTEqual(resp.ModeBinding[:], modeBinding) {
		return nil, logger.NewProtocolError(logger.CodeVerificationFailed, "mode_binding mismatch in handshake response", nil)
	}
	if err := signer.VerifyRemote(mode, cfg.PeerMontgomeryPub, cfg.PeerDilithiumPub, append(append([]byte{}, transcript...), modeBinding...), resp.Signature); err != nil {
		return nil, logger.NewProtocolError(logger.CodeVerificationFailed, "handshake response signature verification failed", err)
	}

	sharedSecret, err := kem.Decapsulate(ownHybridSK, resp.KEMCiphertext, protocolID)
	if err != nil {
		return nil, err
	}
	sessionID, err := binding.SessionID(clientRandom[:], serverRandom[:], byte(mode))
	if err != nil {
		return nil, err
	}
	masterSecret, err := primitives.HKDF(sharedSecret, append(append([]byte{}, protocolID...), sessionID...), []byte("B4AE-v2-master"), 64)
	clear(sharedSecret)
	if err != nil {
		return nil, err
	}
	confirmation, err := primitives.HKDF(masterSecret, sessionID, []byte("B4AE-v2-confirm"), 32)
	if err != nil {
		return nil, err
	}
	confirmSig, err := initSigner.Sign(confirmation)
	if err != nil {
		return nil, err
	}
	complete := &handshakeCompleteMsg{Signature: confirmSig}
	copy(complete.Confirmation[:], confirmation)
	completePayload, err := complete.marshal()
	if err != nil {
		return nil, err
	}
	if _, err := sendFrame(ctx, t, timeout, msgTypeHandshakeComplete, completePayload); err != nil {
		return nil, err
	}

	ownRatchetKP := &primitives.X25519KeyPair{Private: ownHybridSK.X25519, Public: ownHybridSK.X25519.PublicKey()}
	rs, err := ratchet.Init(masterSecret, protocolID, sessionID, mode, true, ownRatchetKP, resp.ServerHybridPK.X25519, cfg.RatchetOptions)
	clear(masterSecret)
	if err != nil {
		return nil, err
	}
	return &Result{SessionID: sessionID, Mode: mode, Ratchet: rs}, nil
}

// RunResponder drives the server side of the handshake to completion or
// failure.
func RunResponder(ctx context.Context, t Transport, cfg ResponderConfig, challenger *cookie.Challenger) (*Result, error) {
	metrics.HandshakesInitiated.WithLabelValues("server").Inc()
	start := time.Now()
	result, err := runResponderInner(ctx, t, cfg, challenger)
	metrics.HandshakeDuration.WithLabelValues("server").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		metrics.HandshakesFailed.WithLabelValues(handshakeErrorType(err)).Inc()
	} else {
		metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	}
	return result, err
}

// handshakeErrorType classifies a handshake failure into the coarse
// error_type label the Prometheus failure counter is keyed by.
func handshakeErrorType(err error) string {
	if logger.IsCode(err, logger.CodeTimeout) {
		return "timeout"
	}
	if logger.IsCode(err, logger.CodeInvalidInput) {
		return "invalid"
	}
	return "other"
}

func runResponderInner(ctx context.Context, t Transport, cfg ResponderConfig, challenger *cookie.Challenger) (*Result, error) {
	timeout := cfg.timeout()
	protocolID := binding.ProtocolID()
	var frames [][]byte

	// StateModeNegotiation.
	_, negPayload, negFrame, err := receiveFrame(ctx, t, timeout, msgTypeModeNegotiation)
	if err != nil {
		return nil, err
	}
	neg, err := parseModeNegotiationMsg(negPayload)
	if err != nil {
		return nil, err
	}
	frames = append(frames, negFrame)

	mode, err := selectMode(neg.SupportedModes, neg.PreferredMode, cfg.SupportedModes)
	if err != nil {
		return nil, err
	}
	serverRandom, err := randomBytes32()
	if err != nil {
		return nil, err
	}
	sel := &modeSelectionMsg{ServerRandom: serverRandom, SelectedMode: mode}
	selPayload, err := sel.marshal()
	if err != nil {
		return nil, err
	}
	selFrame, err := sendFrame(ctx, t, timeout, msgTypeModeSelection, selPayload)
	if err != nil {
		return nil, err
	}
	frames = append(frames, selFrame)

	modeBinding, err := binding.ModeBinding(neg.ClientRandom[:], serverRandom[:], byte(mode))
	if err != nil {
		return nil, err
	}

	// StateCookieChallenge. Cookie issuance carries no per-client state.
	_, helloPayload, helloFrame, err := receiveFrame(ctx, t, timeout, msgTypeClientHello)
	if err != nil {
		return nil, err
	}
	hello, err := parseClientHelloMsg(helloPayload)
	if err != nil {
		return nil, err
	}
	frames = append(frames, helloFrame)

	cookieVal, ts := challenger.Issue(cfg.ClientAddr, hello.ClientRandom[:])
	challengeMsg := &cookieChallengeMsg{Timestamp: ts}
	copy(challengeMsg.Cookie[:], cookieVal)
	challengePayload, err := challengeMsg.marshal()
	if err != nil {
		return nil, err
	}
	challengeFrame, err := sendFrame(ctx, t, timeout, msgTypeCookieChallenge, challengePayload)
	if err != nil {
		return nil, err
	}
	frames = append(frames, challengeFrame)

	// StateHandshake. Transcript frozen over the same four frames.
	transcript := transcriptHash(protocolID, frames)

	_, chwcPayload, _, err := receiveFrame(ctx, t, timeout, msgTypeClientHelloWithCookie)
	if err != nil {
		return nil, err
	}
	chwc, err := parseClientHelloWithCookieMsg(chwcPayload)
	if err != nil {
		return nil, err
	}

	// CC-1: cookie verification gates every expensive operation below.
	if err := challenger.Verify(cfg.ClientAddr, chwc.ClientRandom[:], chwc.Cookie[:], chwc.Timestamp); err != nil {
		return nil, err
	}
	if !primitives.CTEqual(chwc.ClientRandom[:], neg.ClientRandom[:]) {
		return nil, logger.NewProtocolError(logger.CodeVerificationFailed, "client_random changed mid-handshake", nil)
	}

	init := chwc.HandshakeInit
	if !primitives.CTEqual(init.ProtocolID[:], protocolID) {
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "protocol_id mismatch in handshake init", nil)
	}
	if !primitives.CTEqual(init.ModeBinding[:], modeBinding) {
		return nil, logger.NewProtocolError(logger.CodeVerificationFailed, "mode_binding mismatch in handshake init", nil)
	}
	if err := signer.VerifyRemote(mode, cfg.PeerMontgomeryPub, cfg.PeerDilithiumPub, append(append([]byte{}, transcript...), modeBinding...), init.Signature); err != nil {
		return nil, logger.NewProtocolError(logger.CodeVerificationFailed, "handshake init signature verification failed", err)
	}

	ownHybridSK, err := kem.Generate()
	if err != nil {
		return nil, err
	}
	kemCiphertext, sharedSecret, err := kem.Encapsulate(init.ClientHybridPK, protocolID)
	if err != nil {
		return nil, err
	}
	sessionID, err := binding.SessionID(neg.ClientRandom[:], serverRandom[:], byte(mode))
	if err != nil {
		return nil, err
	}
	masterSecret, err := primitives.HKDF(sharedSecret, append(append([]byte{}, protocolID...), sessionID...), []byte("B4AE-v2-master"), 64)
	clear(sharedSecret)
	if err != nil {
		return nil, err
	}

	respSigner, ok := cfg.Signers[mode]
	if !ok {
		return nil, logger.NewProtocolError(logger.CodeInternal, "no signer configured for the negotiated mode", nil)
	}
	respSig, err := respSigner.Sign(append(append([]byte{}, transcript...), modeBinding...))
	if err != nil {
		return nil, err
	}
	resp := &handshakeResponseMsg{ServerHybridPK: ownHybridSK.Public(), KEMCiphertext: kemCiphertext, Signature: respSig}
	copy(resp.ModeBinding[:], modeBinding)
	copy(resp.ProtocolID[:], protocolID)
	respPayload, err := resp.marshal()
	if err != nil {
		return nil, err
	}
	if _, err := sendFrame(ctx, t, timeout, msgTypeHandshakeResponse, respPayload); err != nil {
		return nil, err
	}

	_, completePayload, _, err := receiveFrame(ctx, t, timeout, msgTypeHandshakeComplete)
	if err != nil {
		return nil, err
	}
	complete, err := parseHandshakeCompleteMsg(completePayload)
	if err != nil {
		return nil, err
	}
	expectedConfirmation, err := primitives.HKDF(masterSecret, sessionID, []byte("B4AE-v2-confirm"), 32)
	if err != nil {
		return nil, err
	}
	if !primitives.CTEqual(complete.Confirmation[:], expectedConfirmation) {
		return nil, logger.NewProtocolError(logger.CodeAuthenticationFailed, "handshake confirmation does not match", nil)
	}
	if err := signer.VerifyRemote(mode, cfg.PeerMontgomeryPub, cfg.PeerDilithiumPub, expectedConfirmation, complete.Signature); err != nil {
		return nil, logger.NewProtocolError(logger.CodeVerificationFailed, "handshake confirmation signature verification failed", err)
	}

	ownRatchetKP := &primitives.X25519KeyPair{Private: ownHybridSK.X25519, Public: ownHybridSK.X25519.PublicKey()}
	rs, err := ratchet.Init(masterSecret, protocolID, sessionID, mode, false, ownRatchetKP, init.ClientHybridPK.X25519, cfg.RatchetOptions)
	clear(masterSecret)
	if err != nil {
		return nil, err
	}
	return &Result{SessionID: sessionID, Mode: mode, Ratchet: rs}, nil
}
