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

// Package peer wires the handshake, ratchet, scheduler and cookie
// components into a single orchestration type: one Peer runs the
// handshake that produces a session, hands that session to the
// process-wide scheduler for pacing and dummy cover, and exposes
// Send/Receive on top of it.
package peer

import (
	"context"
	"sync"
	"time"

	"github.com/b4ae-project/b4ae/config"
	"github.com/b4ae-project/b4ae/cookie"
	"github.com/b4ae-project/b4ae/handshake"
	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/primitives"
	"github.com/b4ae-project/b4ae/ratchet"
	"github.com/b4ae-project/b4ae/scheduler"
)

// Config configures a Peer. SchedulerOptions and IdleTimeout are shared by
// every session the Peer ever establishes, since the scheduler is a
// process-wide singleton per spec, not a per-session object.
type Config struct {
	Identity         handshake.Identity
	SupportedModes   []primitives.AuthenticationMode
	PreferredMode    primitives.AuthenticationMode
	HandshakeTimeout time.Duration
	RatchetOptions   ratchet.Options
	SchedulerOptions scheduler.Options
	CookieOptions    cookie.Options
	IdleTimeout      time.Duration

	// Transmit hands a paced, encrypted message (real or dummy cover
	// traffic) to the caller's transport. The scheduler invokes it once
	// per pacing tick; a nil Transmit is valid when a Peer is only used
	// to drive a handshake in isolation.
	Transmit func(sessionID []byte, msg *ratchet.Message, isDummy bool)
}

// ConfigFromCore derives the RatchetOptions/SchedulerOptions/CookieOptions/
// HandshakeTimeout/PreferredMode of a Config from a loaded configuration's
// core settings. Identity, SupportedModes and Transmit are caller-specific
// and are left zero-valued for the caller to fill in.
func ConfigFromCore(core config.CoreConfig) (Config, error) {
	mode, err := core.Mode()
	if err != nil {
		return Config{}, err
	}
	return Config{
		PreferredMode:    mode,
		HandshakeTimeout: time.Duration(core.HandshakeTimeoutMs) * time.Millisecond,
		RatchetOptions: ratchet.Options{
			RatchetInterval: uint64(core.RatchetInterval),
			CacheCap:        int(core.CacheCap),
			MaxSkip:         int(core.MaxSkip),
		},
		SchedulerOptions: scheduler.Options{
			TargetRateHz:  core.TargetRateHz,
			DummyRate:     core.DummyRate,
			MaxQueueDepth: int(core.MaxQueueDepth),
			MaxQueueBytes: int(core.MaxQueueBytes),
		},
		CookieOptions: cookie.Options{
			Validity:         time.Duration(core.CookieValiditySeconds) * time.Second,
			RotationInterval: time.Duration(core.CookieSecretRotationHours) * time.Hour,
		},
	}, nil
}

// Peer owns one handshake identity, the process-wide scheduler and cookie
// challenger, and at most one established session at a time.
type Peer struct {
	cfg Config

	registry   *scheduler.Registry
	scheduler  *scheduler.Scheduler
	challenger *cookie.Challenger

	mu        sync.RWMutex
	sessionID string
	mode      primitives.AuthenticationMode
	session   *ratchet.RatchetState
}

// New starts the scheduler and cookie challenger backing p. Call Close to
// stop both.
func New(cfg Config) (*Peer, error) {
	registry := scheduler.NewRegistry(cfg.IdleTimeout)
	schedOpts := cfg.SchedulerOptions
	if cfg.Transmit != nil {
		schedOpts.OnDispatch = func(sessionID string, msg *ratchet.Message, isDummy bool) {
			cfg.Transmit([]byte(sessionID), msg, isDummy)
		}
	}
	sched, err := scheduler.NewScheduler(registry, schedOpts)
	if err != nil {
		registry.Close()
		return nil, err
	}
	challenger, err := cookie.NewChallenger(cfg.CookieOptions)
	if err != nil {
		sched.Close()
		registry.Close()
		return nil, err
	}
	return &Peer{cfg: cfg, registry: registry, scheduler: sched, challenger: challenger}, nil
}

// Connect runs the handshake as the initiator over t and installs the
// resulting session.
func (p *Peer) Connect(ctx context.Context, t handshake.Transport) error {
	result, err := handshake.RunInitiator(ctx, t, handshake.InitiatorConfig{
		Identity:       p.cfg.Identity,
		SupportedModes: p.cfg.SupportedModes,
		PreferredMode:  p.cfg.PreferredMode,
		StateTimeout:   p.cfg.HandshakeTimeout,
		RatchetOptions: p.cfg.RatchetOptions,
	})
	if err != nil {
		return err
	}
	p.install(result)
	return nil
}

// Accept runs the handshake as the responder over t, gating the cookie
// challenge on clientAddr, and installs the resulting session.
func (p *Peer) Accept(ctx context.Context, t handshake.Transport, clientAddr []byte) error {
	result, err := handshake.RunResponder(ctx, t, handshake.ResponderConfig{
		Identity:       p.cfg.Identity,
		SupportedModes: p.cfg.SupportedModes,
		ClientAddr:     clientAddr,
		StateTimeout:   p.cfg.HandshakeTimeout,
		RatchetOptions: p.cfg.RatchetOptions,
	}, p.challenger)
	if err != nil {
		return err
	}
	p.install(result)
	return nil
}

func (p *Peer) install(result *handshake.Result) {
	p.mu.Lock()
	p.sessionID = string(result.SessionID)
	p.mode = result.Mode
	p.session = result.Ratchet
	p.mu.Unlock()
	p.registry.Put(p.sessionID, result.Ratchet)
}

// Send hands plaintext to the scheduler's paced queue. The scheduler, not
// Send, performs the actual encrypt-and-dispatch on its own tick.
func (p *Peer) Send(plaintext []byte) error {
	p.mu.RLock()
	sid := p.sessionID
	p.mu.RUnlock()
	if sid == "" {
		return logger.NewProtocolError(logger.CodeInvalidInput, "peer has no established session", nil)
	}
	return p.scheduler.Enqueue(sid, plaintext)
}

// Receive decrypts msg under the established session and strips the
// scheduler's real/dummy marker. ok is false for dummy cover traffic,
// which callers must silently discard rather than surface to the
// application layer.
func (p *Peer) Receive(msg *ratchet.Message) (plaintext []byte, ok bool, err error) {
	p.mu.RLock()
	session := p.session
	p.mu.RUnlock()
	if session == nil {
		return nil, false, logger.NewProtocolError(logger.CodeInvalidInput, "peer has no established session", nil)
	}
	decrypted, err := session.Decrypt(msg)
	if err != nil {
		return nil, false, err
	}
	isDummy, payload, err := scheduler.DecodeMarker(decrypted)
	if err != nil {
		return nil, false, err
	}
	if isDummy {
		return nil, false, nil
	}
	return payload, true, nil
}

// SessionID returns the established session's identifier, or nil before a
// handshake has completed.
func (p *Peer) SessionID() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sessionID == "" {
		return nil
	}
	return []byte(p.sessionID)
}

// Mode returns the negotiated authentication mode, valid once a handshake
// has completed.
func (p *Peer) Mode() primitives.AuthenticationMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// Stats returns the process-wide scheduler's traffic counters.
func (p *Peer) Stats() scheduler.Statistics {
	return p.scheduler.Stats()
}

// Close tears down the established session (if any) and stops the
// scheduler and cookie challenger.
func (p *Peer) Close() error {
	p.mu.Lock()
	sid := p.sessionID
	p.sessionID = ""
	p.session = nil
	p.mu.Unlock()

	if sid != "" {
		p.registry.Remove(sid)
	}
	p.scheduler.Close()
	p.registry.Close()
	p.challenger.Close()
	return nil
}
