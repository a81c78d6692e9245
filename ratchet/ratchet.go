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

// Package ratchet implements the post-handshake Double Ratchet session:
// per-message key derivation over a send/recv chain pair, a periodic DH
// ratchet step, and a bounded skipped-key cache for out-of-order delivery.
//
// The DH ratchet step is scoped to the X25519 half of the session's key
// material only. Kyber1024 has no symmetric operation between two static
// key pairs the way X25519(a.sk, b.pk) == X25519(b.sk, a.pk) holds, so its
// post-quantum contribution is confined to the handshake's bootstrap
// master secret; it is not re-keyed on every ratchet tick.
package ratchet

import (
	"crypto/ecdh"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/internal/metrics"
	"github.com/b4ae-project/b4ae/primitives"
)

const (
	infoRootKey      = "B4AE-v2-root-key"
	infoSendChain0   = "B4AE-v2-send-chain-0"
	infoRecvChain0   = "B4AE-v2-recv-chain-0"
	infoSendChain    = "B4AE-v2-send-chain"
	infoRecvChain    = "B4AE-v2-recv-chain"
	infoMessageKey   = "B4AE-v2-message-key"
	infoChainAdvance = "B4AE-v2-chain-advance"
	infoRootRatchet  = "B4AE-v2-root-ratchet"

	defaultRatchetInterval = 100
	defaultCacheCap        = 1000
	defaultMaxSkip         = 1000
)

// Options configures a RatchetState's tunables. Zero values are replaced
// with the protocol defaults by withDefaults.
type Options struct {
	// RatchetInterval is how many sent messages trigger a DH ratchet step.
	RatchetInterval uint64
	// CacheCap bounds the skipped-key cache; range [10, 1000].
	CacheCap int
	// MaxSkip bounds how far out-of-order a message may arrive before it
	// is rejected as a denial-of-service guard; range [100, 10000].
	MaxSkip int
}

func (o Options) withDefaults() Options {
	if o.RatchetInterval == 0 {
		o.RatchetInterval = defaultRatchetInterval
	}
	if o.CacheCap == 0 {
		o.CacheCap = defaultCacheCap
	}
	if o.MaxSkip == 0 {
		o.MaxSkip = defaultMaxSkip
	}
	return o
}

// RatchetHeader carries the fresh X25519 public key a DH ratchet step
// introduces, attached to the first message sent on the resulting chain.
type RatchetHeader struct {
	NewPublicKey []byte
}

// Message is one ciphertext unit exchanged over an established session.
type Message struct {
	RatchetCount  uint64
	Counter       uint64
	RatchetUpdate *RatchetHeader
	Ciphertext    []byte
}

// RatchetState is one side's view of an established Double Ratchet
// session. It is safe for concurrent use.
type RatchetState struct {
	mu sync.Mutex

	protocolID []byte
	sessionID  []byte
	mode       primitives.AuthenticationMode

	isInitiator bool
	opts        Options

	rootKey      []byte
	sendChainKey []byte
	recvChainKey []byte

	sendCounter   uint64
	sendExhausted bool
	recvCounter   uint64
	ratchetCount  uint64

	ownRatchetKP  *primitives.X25519KeyPair
	peerRatchetPK []byte

	pendingHeader *RatchetHeader
	skipped       *skippedKeyCache
}

// Init derives the initial root and chain keys from masterSecret (the
// hybrid KEM output produced at the end of the handshake) and returns a
// ready-to-use RatchetState. isInitiator decides which of the two derived
// chains this side sends on versus receives on; both peers must agree on
// which one called Init as the initiator.
func Init(
	masterSecret, protocolID, sessionID []byte,
	mode primitives.AuthenticationMode,
	isInitiator bool,
	ownRatchetKP *primitives.X25519KeyPair,
	peerRatchetPK []byte,
	opts Options,
) (*RatchetState, error) {
	if len(peerRatchetPK) != primitives.X25519KeySize {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, logger.NewProtocolError(logger.CodeInvalidInput, "peer ratchet public key must be 32 bytes", nil)
	}

	rootKey, err := primitives.HKDF(masterSecret, sessionID, []byte(infoRootKey), primitives.AEADKeySize)
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, err
	}
	sendChain, recvChain, err := deriveChainPair(rootKey, sessionID, infoSendChain0, infoRecvChain0, isInitiator)
	if err != nil {
		clear(rootKey)
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, err
	}

	peerPK := make([]byte, len(peerRatchetPK))
	copy(peerPK, peerRatchetPK)

	metrics.SessionsCreated.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	return &RatchetState{
		protocolID:    append([]byte{}, protocolID...),
		sessionID:     append([]byte{}, sessionID...),
		mode:          mode,
		isInitiator:   isInitiator,
		opts:          opts.withDefaults(),
		rootKey:       rootKey,
		sendChainKey:  sendChain,
		recvChainKey:  recvChain,
		ownRatchetKP:  ownRatchetKP,
		peerRatchetPK: peerPK,
		skipped:       newSkippedKeyCache(),
	}, nil
}

// SessionID returns the session identifier this ratchet was initialized
// with.
func (r *RatchetState) SessionID() []byte {
	return append([]byte{}, r.sessionID...)
}

// Zeroize drops references to every secret this session holds. The
// RatchetState must not be used afterward.
func (r *RatchetState) Zeroize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.rootKey)
	clear(r.sendChainKey)
	clear(r.recvChainKey)
	if r.ownRatchetKP != nil {
		r.ownRatchetKP.Zeroize()
	}
	r.rootKey, r.sendChainKey, r.recvChainKey = nil, nil, nil
	metrics.SessionsClosed.Inc()
	metrics.SessionsActive.Dec()
}

// deriveChainPair derives the two chains a ratchet's root key feeds and
// assigns them to send/recv by role, so both peers land on the same
// send/recv pair from a shared root without exchanging which is which.
func deriveChainPair(root, sessionID []byte, abInfo, baInfo string, isInitiator bool) (sendChain, recvChain []byte, err error) {
	ab, err := primitives.HKDF(root, sessionID, []byte(abInfo), primitives.AEADKeySize)
	if err != nil {
		return nil, nil, err
	}
	ba, err := primitives.HKDF(root, sessionID, []byte(baInfo), primitives.AEADKeySize)
	if err != nil {
		clear(ab)
		return nil, nil, err
	}
	if isInitiator {
		return ab, ba, nil
	}
	return ba, ab, nil
}

// Encrypt derives the next message key off the send chain, seals
// plaintext under it, and advances the chain. Every
// opts.RatchetInterval-th message additionally performs a DH ratchet
// step whose new public key is carried on the following message.
func (r *RatchetState) Encrypt(plaintext []byte) (*Message, error) {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() { metrics.SessionDuration.WithLabelValues("encrypt").Observe(time.Since(start).Seconds()) }()

	if r.sendExhausted || r.sendCounter == math.MaxUint64 {
		metrics.MessagesProcessed.WithLabelValues("binary", "failure").Inc()
		return nil, logger.NewProtocolError(logger.CodeSequenceExhausted, "send counter exhausted", nil)
	}

	msgKey, nextChain, err := stepChain(r.sendChainKey, r.sessionID)
	if err != nil {
		metrics.MessagesProcessed.WithLabelValues("binary", "failure").Inc()
		return nil, err
	}
	clear(r.sendChainKey)
	r.sendChainKey = nextChain

	counter := r.sendCounter
	nonce := buildNonce(r.ratchetCount, counter)
	aad := buildAAD(r.protocolID, r.sessionID, r.ratchetCount, counter)
	ct, err := primitives.AEADSeal(msgKey, nonce, aad, plaintext)
	clear(msgKey)
	if err != nil {
		metrics.MessagesProcessed.WithLabelValues("binary", "failure").Inc()
		return nil, err
	}

	msg := &Message{
		RatchetCount:  r.ratchetCount,
		Counter:       counter,
		RatchetUpdate: r.pendingHeader,
		Ciphertext:    ct,
	}
	r.pendingHeader = nil

	r.sendCounter++
	if r.sendCounter == math.MaxUint64 {
		r.sendExhausted = true
	} else if r.sendCounter%r.opts.RatchetInterval == 0 {
		if err := r.stepDHRatchetLocked(); err != nil {
			metrics.MessagesProcessed.WithLabelValues("binary", "failure").Inc()
			return nil, err
		}
	}
	metrics.MessagesProcessed.WithLabelValues("binary", "success").Inc()
	metrics.SessionMessageSize.WithLabelValues("outbound").Observe(float64(len(ct)))
	metrics.MessageSize.Observe(float64(len(plaintext)))
	return msg, nil
}

// Decrypt authenticates and opens msg, following the embedded ratchet
// update if msg belongs to a chain this side hasn't adopted yet, and
// falling back to the skipped-key cache for anything that arrived out of
// order or behind a ratchet boundary this side already crossed.
func (r *RatchetState) Decrypt(msg *Message) ([]byte, error) {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() { metrics.SessionDuration.WithLabelValues("decrypt").Observe(time.Since(start).Seconds()) }()

	var plaintext []byte
	var err error
	switch {
	case msg.RatchetCount < r.ratchetCount:
		plaintext, err = r.decryptFromSkippedLocked(msg)
	case msg.RatchetCount > r.ratchetCount:
		if err = r.applyRatchetUpdateLocked(msg); err != nil {
			break
		}
		plaintext, err = r.decryptCurrentChainLocked(msg)
	default:
		plaintext, err = r.decryptCurrentChainLocked(msg)
	}

	if err != nil {
		if logger.IsCode(err, logger.CodeAuthenticationFailed) {
			metrics.ReplayAttacksDetected.Inc()
			metrics.NonceValidations.WithLabelValues("invalid").Inc()
		}
		metrics.MessagesProcessed.WithLabelValues("binary", "failure").Inc()
		return nil, err
	}
	metrics.NonceValidations.WithLabelValues("valid").Inc()
	metrics.MessagesProcessed.WithLabelValues("binary", "success").Inc()
	metrics.SessionMessageSize.WithLabelValues("inbound").Observe(float64(len(msg.Ciphertext)))
	return plaintext, nil
}

func (r *RatchetState) decryptCurrentChainLocked(msg *Message) ([]byte, error) {
	if msg.Counter < r.recvCounter {
		return r.decryptFromSkippedLocked(msg)
	}
	if msg.Counter == r.recvCounter {
		msgKey, nextChain, err := stepChain(r.recvChainKey, r.sessionID)
		if err != nil {
			return nil, err
		}
		clear(r.recvChainKey)
		r.recvChainKey = nextChain
		r.recvCounter++
		return openMessage(r.protocolID, r.sessionID, msg, msgKey)
	}

	skip := msg.Counter - r.recvCounter
	if skip > uint64(r.opts.MaxSkip) {
		return nil, logger.NewProtocolError(logger.CodeAuthenticationFailed, "message counter exceeds max_skip", nil)
	}

	chainKey := r.recvChainKey
	for c := r.recvCounter; c < msg.Counter; c++ {
		msgKey, nextChain, err := stepChain(chainKey, r.sessionID)
		if err != nil {
			return nil, err
		}
		r.skipped.Insert(r.ratchetCount, c, msgKey, r.opts.CacheCap)
		clear(chainKey)
		chainKey = nextChain
	}
	msgKey, nextChain, err := stepChain(chainKey, r.sessionID)
	if err != nil {
		return nil, err
	}
	clear(chainKey)
	r.recvChainKey = nextChain
	r.recvCounter = msg.Counter + 1
	return openMessage(r.protocolID, r.sessionID, msg, msgKey)
}

func (r *RatchetState) decryptFromSkippedLocked(msg *Message) ([]byte, error) {
	msgKey, ok := r.skipped.Take(msg.RatchetCount, msg.Counter)
	if !ok {
		return nil, logger.NewProtocolError(logger.CodeAuthenticationFailed, "message key not found for stale or replayed counter", nil)
	}
	return openMessage(r.protocolID, r.sessionID, msg, msgKey)
}

// stepDHRatchetLocked is invoked on the sending side once every
// opts.RatchetInterval messages. It generates a fresh X25519 key pair,
// performs a genuine symmetric DH against the peer's last announced
// ratchet public key, and re-derives root and chain keys from it.
func (r *RatchetState) stepDHRatchetLocked() error {
	start := time.Now()
	r.cacheRemainingOldRecvChainLocked()

	fresh, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		metrics.GetGlobalCollector().RecordRatchetRekey(false, time.Since(start))
		return err
	}
	newRoot, newSend, newRecv, err := r.combineRatchetStepLocked(fresh.Private, r.peerRatchetPK)
	if err != nil {
		fresh.Zeroize()
		metrics.GetGlobalCollector().RecordRatchetRekey(false, time.Since(start))
		return err
	}

	if r.ownRatchetKP != nil {
		r.ownRatchetKP.Zeroize()
	}
	r.ownRatchetKP = fresh
	clear(r.rootKey)
	clear(r.sendChainKey)
	clear(r.recvChainKey)
	r.rootKey, r.sendChainKey, r.recvChainKey = newRoot, newSend, newRecv
	r.ratchetCount++
	r.sendCounter = 0
	r.recvCounter = 0
	r.pendingHeader = &RatchetHeader{NewPublicKey: fresh.PublicBytes()}
	metrics.GetGlobalCollector().RecordRatchetRekey(true, time.Since(start))
	return nil
}

// applyRatchetUpdateLocked mirrors stepDHRatchetLocked on the receiving
// side: it adopts the peer's newly announced public key and re-derives
// the same root and chain keys the peer just computed.
func (r *RatchetState) applyRatchetUpdateLocked(msg *Message) error {
	start := time.Now()
	if msg.RatchetCount != r.ratchetCount+1 {
		err := logger.NewProtocolError(logger.CodeAuthenticationFailed, "ratchet_count advanced by more than one step", nil)
		metrics.GetGlobalCollector().RecordRatchetRekey(false, time.Since(start))
		return err
	}
	if msg.RatchetUpdate == nil || len(msg.RatchetUpdate.NewPublicKey) != primitives.X25519KeySize {
		err := logger.NewProtocolError(logger.CodeInvalidInput, "missing or malformed ratchet update header", nil)
		metrics.GetGlobalCollector().RecordRatchetRekey(false, time.Since(start))
		return err
	}

	r.cacheRemainingOldRecvChainLocked()

	newRoot, newSend, newRecv, err := r.combineRatchetStepLocked(r.ownRatchetKP.Private, msg.RatchetUpdate.NewPublicKey)
	if err != nil {
		metrics.GetGlobalCollector().RecordRatchetRekey(false, time.Since(start))
		return err
	}

	clear(r.rootKey)
	clear(r.sendChainKey)
	clear(r.recvChainKey)
	r.rootKey, r.sendChainKey, r.recvChainKey = newRoot, newSend, newRecv
	r.peerRatchetPK = append([]byte{}, msg.RatchetUpdate.NewPublicKey...)
	r.ratchetCount = msg.RatchetCount
	r.recvCounter = 0
	metrics.GetGlobalCollector().RecordRatchetRekey(true, time.Since(start))
	return nil
}

func (r *RatchetState) combineRatchetStepLocked(ownPriv *ecdh.PrivateKey, peerPub []byte) ([]byte, []byte, []byte, error) {
	ssX, err := primitives.X25519DH(ownPriv, peerPub)
	if err != nil {
		return nil, nil, nil, err
	}
	ikm := append(append([]byte{}, r.rootKey...), ssX...)
	newRoot, err := primitives.HKDF(ikm, r.protocolID, []byte(infoRootRatchet), primitives.AEADKeySize)
	clear(ssX)
	clear(ikm)
	if err != nil {
		return nil, nil, nil, err
	}
	newSend, newRecv, err := deriveChainPair(newRoot, r.sessionID, infoSendChain, infoRecvChain, r.isInitiator)
	if err != nil {
		clear(newRoot)
		return nil, nil, nil, err
	}
	return newRoot, newSend, newRecv, nil
}

// cacheRemainingOldRecvChainLocked derives and caches up to opts.MaxSkip
// further keys from the about-to-be-replaced recv chain before a DH
// ratchet step overwrites it, giving any already-in-flight messages on
// the old chain a bounded window to still be decrypted.
func (r *RatchetState) cacheRemainingOldRecvChainLocked() {
	chainKey := r.recvChainKey
	for i := 0; i < r.opts.MaxSkip; i++ {
		counter := r.recvCounter + uint64(i)
		msgKey, nextChain, err := stepChain(chainKey, r.sessionID)
		if err != nil {
			break
		}
		r.skipped.Insert(r.ratchetCount, counter, msgKey, r.opts.CacheCap)
		clear(chainKey)
		chainKey = nextChain
	}
	clear(chainKey)
}

func stepChain(chainKey, sessionID []byte) (messageKey, nextChainKey []byte, err error) {
	messageKey, err = primitives.HKDF(chainKey, sessionID, []byte(infoMessageKey), primitives.AEADKeySize)
	if err != nil {
		return nil, nil, err
	}
	nextChainKey, err = primitives.HKDF(chainKey, sessionID, []byte(infoChainAdvance), primitives.AEADKeySize)
	if err != nil {
		clear(messageKey)
		return nil, nil, err
	}
	return messageKey, nextChainKey, nil
}

func openMessage(protocolID, sessionID []byte, msg *Message, msgKey []byte) ([]byte, error) {
	nonce := buildNonce(msg.RatchetCount, msg.Counter)
	aad := buildAAD(protocolID, sessionID, msg.RatchetCount, msg.Counter)
	pt, err := primitives.AEADOpen(msgKey, nonce, aad, msg.Ciphertext)
	clear(msgKey)
	return pt, err
}

func buildNonce(ratchetCount, counter uint64) []byte {
	nonce := make([]byte, primitives.AEADNonceSize)
	binary.BigEndian.PutUint32(nonce[:4], uint32(ratchetCount))
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

func buildAAD(protocolID, sessionID []byte, ratchetCount, counter uint64) []byte {
	aad := make([]byte, 0, len(protocolID)+len(sessionID)+16)
	aad = append(aad, protocolID...)
	aad = append(aad, sessionID...)
	var rc, sc [8]byte
	binary.BigEndian.PutUint64(rc[:], ratchetCount)
	binary.BigEndian.PutUint64(sc[:], counter)
	aad = append(aad, rc[:]...)
	aad = append(aad, sc[:]...)
	return aad
}
