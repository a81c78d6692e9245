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

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b4ae-project/b4ae/binding"
	"github.com/b4ae-project/b4ae/primitives"
	"github.com/b4ae-project/b4ae/ratchet"
)

type fixedRNG struct{ n int }

func (f fixedRNG) IntN(n int) int { return f.n % n }

func newTestSession(t *testing.T) *ratchet.RatchetState {
	t.Helper()
	masterSecret := make([]byte, 32)
	clientRandom := make([]byte, 32)
	serverRandom := make([]byte, 32)
	for i := range clientRandom {
		clientRandom[i] = 0xAA
		serverRandom[i] = 0xBB
	}
	sessionID, err := binding.SessionID(clientRandom, serverRandom, byte(primitives.ModeA))
	require.NoError(t, err)
	ownKP, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)
	peerKP, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	rs, err := ratchet.Init(masterSecret, binding.ProtocolID(), sessionID, primitives.ModeA, true, ownKP, peerKP.PublicBytes(), ratchet.Options{})
	require.NoError(t, err)
	return rs
}

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry(0)
	defer r.Close()

	session := newTestSession(t)
	r.Put("sess-1", session)

	got, ok := r.Get("sess-1")
	require.True(t, ok)
	assert.Same(t, session, got)

	r.Remove("sess-1")
	_, ok = r.Get("sess-1")
	assert.False(t, ok)
}

func TestRegistryCount(t *testing.T) {
	r := NewRegistry(0)
	defer r.Close()

	r.Put("a", newTestSession(t))
	r.Put("b", newTestSession(t))
	assert.Equal(t, 2, r.Count())
}

func TestRegistryRandomSessionIDEmpty(t *testing.T) {
	r := NewRegistry(0)
	defer r.Close()

	_, ok := r.RandomSessionID(fixedRNG{0})
	assert.False(t, ok)
}

func TestRegistryRandomSessionIDReturnsTracked(t *testing.T) {
	r := NewRegistry(0)
	defer r.Close()

	r.Put("only", newTestSession(t))
	id, ok := r.RandomSessionID(fixedRNG{0})
	require.True(t, ok)
	assert.Equal(t, "only", id)
}

func TestRegistryIdleEviction(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	defer r.Close()

	r.Put("idle", newTestSession(t))
	time.Sleep(30 * time.Millisecond)
	r.evictIdle()

	_, ok := r.Get("idle")
	assert.False(t, ok)
}
