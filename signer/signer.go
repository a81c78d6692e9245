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

// Package signer is the mode-polymorphic signing façade: Mode A signs
// with XEdDSA over the X25519-converted identity key (deniable), Mode B
// signs with Dilithium5 (post-quantum, non-deniable). The two are modeled
// as a sum type behind a single Signer interface so callers never branch
// on mode themselves.
package signer

import (
	"time"

	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/internal/metrics"
	"github.com/b4ae-project/b4ae/primitives"
	"github.com/cloudflare/circl/sign/dilithium/mode5"
)

// HybridSignature is the tagged variant carried on the wire: exactly one
// of the two fields is populated, chosen by Mode.
type HybridSignature struct {
	Mode       primitives.AuthenticationMode
	XEdDSA     []byte // 64 bytes, Mode A
	Dilithium5 []byte // mode5.SignatureSize bytes, Mode B
}

// Signer signs and verifies transcripts under exactly one AuthenticationMode.
type Signer interface {
	Mode() primitives.AuthenticationMode
	Sign(transcript []byte) (*HybridSignature, error)
	Verify(transcript []byte, sig *HybridSignature) error
}

// NewModeASigner builds a Signer that signs with XEdDSA over the supplied
// Ed25519 identity key pair (converted internally to its X25519 scalar).
func NewModeASigner(identity *primitives.Ed25519KeyPair) (Signer, error) {
	scalar, err := primitives.EdPrivToX25519Scalar(identity.Private)
	if err != nil {
		return nil, err
	}
	montPub, err := primitives.EdPubToX25519(identity.Public)
	if err != nil {
		return nil, err
	}
	return &xeddsaSigner{scalar: scalar, montgomeryPub: montPub}, nil
}

// NewModeBSigner builds a Signer that signs with Dilithium5 over the
// supplied post-quantum identity key pair.
func NewModeBSigner(identity *primitives.Dilithium5KeyPair) Signer {
	return &dilithiumSigner{priv: identity.Private, pub: identity.Public}
}

type xeddsaSigner struct {
	scalar        []byte
	montgomeryPub []byte
}

func (s *xeddsaSigner) Mode() primitives.AuthenticationMode { return primitives.ModeA }

func (s *xeddsaSigner) Sign(transcript []byte) (*HybridSignature, error) {
	start := time.Now()
	sig, err := primitives.XEdDSASign(s.scalar, transcript)
	recordCryptoOp("sign", "xeddsa", start, err)
	if err != nil {
		return nil, err
	}
	return &HybridSignature{Mode: primitives.ModeA, XEdDSA: sig}, nil
}

func (s *xeddsaSigner) Verify(transcript []byte, sig *HybridSignature) error {
	start := time.Now()
	if sig.Mode != primitives.ModeA {
		err := logger.NewProtocolError(logger.CodeAuthenticationFailed, "signature variant does not match negotiated mode A", nil)
		recordCryptoOp("verify", "xeddsa", start, err)
		return err
	}
	err := primitives.XEdDSAVerify(s.montgomeryPub, transcript, sig.XEdDSA)
	recordCryptoOp("verify", "xeddsa", start, err)
	return err
}

type dilithiumSigner struct {
	priv *mode5.PrivateKey
	pub  *mode5.PublicKey
}

func (s *dilithiumSigner) Mode() primitives.AuthenticationMode { return primitives.ModeB }

func (s *dilithiumSigner) Sign(transcript []byte) (*HybridSignature, error) {
	start := time.Now()
	sig := primitives.Dilithium5Sign(s.priv, transcript)
	recordCryptoOp("sign", "dilithium5", start, nil)
	return &HybridSignature{Mode: primitives.ModeB, Dilithium5: sig}, nil
}

func (s *dilithiumSigner) Verify(transcript []byte, sig *HybridSignature) error {
	start := time.Now()
	if sig.Mode != primitives.ModeB {
		err := logger.NewProtocolError(logger.CodeAuthenticationFailed, "signature variant does not match negotiated mode B", nil)
		recordCryptoOp("verify", "dilithium5", start, err)
		return err
	}
	err := primitives.Dilithium5Verify(s.pub, transcript, sig.Dilithium5)
	recordCryptoOp("verify", "dilithium5", start, err)
	return err
}

// recordCryptoOp feeds both the Prometheus crypto metrics and the
// in-process MetricsCollector used by callers that inspect a live
// snapshot rather than scraping /metrics.
func recordCryptoOp(operation, algorithm string, start time.Time, err error) {
	duration := time.Since(start)
	metrics.CryptoOperationDuration.WithLabelValues(operation, algorithm).Observe(duration.Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues(operation).Inc()
	} else {
		metrics.CryptoOperations.WithLabelValues(operation, algorithm).Inc()
	}
	switch operation {
	case "sign":
		metrics.GetGlobalCollector().RecordSignature(duration)
	case "verify":
		metrics.GetGlobalCollector().RecordVerification(err == nil, duration)
	}
}

// VerifyRemote verifies sig against transcript using only the peer's
// advertised mode and public key material, for the handshake's receive
// side where no local Signer has been constructed for the peer's identity.
func VerifyRemote(mode primitives.AuthenticationMode, peerMontgomeryPub []byte, peerDilithiumPub *mode5.PublicKey, transcript []byte, sig *HybridSignature) error {
	start := time.Now()
	if !mode.Valid() {
		err := logger.NewProtocolError(logger.CodeNegotiationFailed, "mode C is reserved and must be rejected", nil)
		recordCryptoOp("verify", "unknown", start, err)
		return err
	}
	if sig.Mode != mode {
		err := logger.NewProtocolError(logger.CodeAuthenticationFailed, "signature variant does not match negotiated mode", nil)
		recordCryptoOp("verify", "unknown", start, err)
		return err
	}
	switch mode {
	case primitives.ModeA:
		err := primitives.XEdDSAVerify(peerMontgomeryPub, transcript, sig.XEdDSA)
		recordCryptoOp("verify", "xeddsa", start, err)
		return err
	case primitives.ModeB:
		err := primitives.Dilithium5Verify(peerDilithiumPub, transcript, sig.Dilithium5)
		recordCryptoOp("verify", "dilithium5", start, err)
		return err
	default:
		err := logger.NewProtocolError(logger.CodeNegotiationFailed, "mode C is reserved and must be rejected", nil)
		recordCryptoOp("verify", "unknown", start, err)
		return err
	}
}
