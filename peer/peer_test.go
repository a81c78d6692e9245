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

package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b4ae-project/b4ae/config"
	"github.com/b4ae-project/b4ae/handshake"
	"github.com/b4ae-project/b4ae/primitives"
	"github.com/b4ae-project/b4ae/ratchet"
	"github.com/b4ae-project/b4ae/scheduler"
	"github.com/b4ae-project/b4ae/signer"
)

type pipeTransport struct {
	send chan []byte
	recv chan []byte
}

func newPipePair() (client, server *pipeTransport) {
	clientToServer := make(chan []byte, 16)
	serverToClient := make(chan []byte, 16)
	client = &pipeTransport{send: clientToServer, recv: serverToClient}
	server = &pipeTransport{send: serverToClient, recv: clientToServer}
	return client, server
}

func (p *pipeTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case p.send <- append([]byte{}, frame...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-p.recv:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type dispatched struct {
	sessionID []byte
	msg       *ratchet.Message
	isDummy   bool
}

func newTestPeer(t *testing.T, outbound chan<- dispatched) (*Peer, *primitives.Ed25519KeyPair) {
	t.Helper()
	identity, err := primitives.GenerateEd25519KeyPair()
	require.NoError(t, err)
	s, err := signer.NewModeASigner(identity)
	require.NoError(t, err)

	p, err := New(Config{
		Identity: handshake.Identity{
			Signers: map[primitives.AuthenticationMode]signer.Signer{primitives.ModeA: s},
		},
		SupportedModes: []primitives.AuthenticationMode{primitives.ModeA},
		PreferredMode:  primitives.ModeA,
		// Fast pacing keeps the round-trip test from waiting on the
		// scheduler's default 50 Hz tick. DummyRate is left at
		// its spec-mandated floor (0.20) rather than disabled.
		SchedulerOptions: scheduler.Options{TargetRateHz: 1000, DummyRate: 0.20},
		Transmit: func(sessionID []byte, msg *ratchet.Message, isDummy bool) {
			outbound <- dispatched{sessionID: sessionID, msg: msg, isDummy: isDummy}
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, identity
}

func TestPeerConnectAcceptSendReceiveRoundTrip(t *testing.T) {
	clientOutbound := make(chan dispatched, 16)
	serverOutbound := make(chan dispatched, 16)
	clientPeer, clientIdentity := newTestPeer(t, clientOutbound)
	serverPeer, serverIdentity := newTestPeer(t, serverOutbound)

	clientMontgomery, err := primitives.EdPubToX25519(clientIdentity.Public)
	require.NoError(t, err)
	serverMontgomery, err := primitives.EdPubToX25519(serverIdentity.Public)
	require.NoError(t, err)
	clientPeer.cfg.Identity.PeerMontgomeryPub = serverMontgomery
	serverPeer.cfg.Identity.PeerMontgomeryPub = clientMontgomery

	clientTransport, serverTransport := newPipePair()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientErr := make(chan error, 1)
	serverErr := make(chan error, 1)
	go func() { clientErr <- clientPeer.Connect(ctx, clientTransport) }()
	go func() { serverErr <- serverPeer.Accept(ctx, serverTransport, []byte("198.51.100.23:9000")) }()

	require.NoError(t, <-clientErr)
	require.NoError(t, <-serverErr)

	assert.Equal(t, clientPeer.SessionID(), serverPeer.SessionID())
	assert.Equal(t, primitives.ModeA, clientPeer.Mode())

	require.NoError(t, clientPeer.Send([]byte("hello from client")))

	// Dummy cover traffic may be interleaved ahead of the queued real
	// message; skip those and grab the first real dispatch.
	var got dispatched
	deadline := time.After(2 * time.Second)
findReal:
	for {
		select {
		case d := <-clientOutbound:
			if !d.isDummy {
				got = d
				break findReal
			}
		case <-deadline:
			t.Fatal("timed out waiting for scheduler to dispatch the queued real message")
		}
	}

	plaintext, ok, err := serverPeer.Receive(got.msg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello from client", string(plaintext))
}

func TestConfigFromCoreAppliesLoadedSettings(t *testing.T) {
	core := config.CoreConfig{
		AuthenticationMode:        "B",
		RatchetInterval:           250,
		CacheCap:                  500,
		MaxSkip:                   2000,
		HandshakeTimeoutMs:        15000,
		TargetRateHz:              75,
		DummyRate:                 0.4,
		MaxQueueDepth:             5000,
		MaxQueueBytes:             1 << 20,
		CookieSecretRotationHours: 12,
		CookieValiditySeconds:     45,
	}

	cfg, err := ConfigFromCore(core)
	require.NoError(t, err)
	assert.Equal(t, primitives.ModeB, cfg.PreferredMode)
	assert.Equal(t, 15*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, uint64(250), cfg.RatchetOptions.RatchetInterval)
	assert.Equal(t, 500, cfg.RatchetOptions.CacheCap)
	assert.Equal(t, 2000, cfg.RatchetOptions.MaxSkip)
	assert.Equal(t, 75.0, cfg.SchedulerOptions.TargetRateHz)
	assert.Equal(t, 0.4, cfg.SchedulerOptions.DummyRate)
	assert.Equal(t, 5000, cfg.SchedulerOptions.MaxQueueDepth)
	assert.Equal(t, 45*time.Second, cfg.CookieOptions.Validity)
	assert.Equal(t, 12*time.Hour, cfg.CookieOptions.RotationInterval)
}

func TestConfigFromCoreRejectsUnknownMode(t *testing.T) {
	_, err := ConfigFromCore(config.CoreConfig{AuthenticationMode: "Z"})
	assert.Error(t, err)
}
