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

	"github.com/b4ae-project/b4ae/internal/logger"
)

func TestEnqueueRejectsOverDepth(t *testing.T) {
	r := NewRegistry(0)
	defer r.Close()
	s, err := NewScheduler(r, Options{TargetRateHz: 1000, MaxQueueDepth: 1})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Enqueue("a", []byte("x")))
	err = s.Enqueue("a", []byte("y"))
	require.Error(t, err)
	assert.True(t, logger.IsCode(err, logger.CodeQueueFull))
}

func TestEnqueueRejectsOverBytes(t *testing.T) {
	r := NewRegistry(0)
	defer r.Close()
	s, err := NewScheduler(r, Options{TargetRateHz: 1000, MaxQueueBytes: 4})
	require.NoError(t, err)
	defer s.Close()

	err = s.Enqueue("a", []byte("toolong"))
	require.Error(t, err)
	assert.True(t, logger.IsCode(err, logger.CodeQueueFull))
}

func TestTickDispatchesRealMessage(t *testing.T) {
	r := NewRegistry(0)
	defer r.Close()
	r.Put("sess-1", newTestSession(t))

	s, err := NewScheduler(r, Options{TargetRateHz: 1000, DummyRate: 0})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Enqueue("sess-1", []byte("payload")))
	time.Sleep(20 * time.Millisecond)

	stats := s.Stats()
	assert.GreaterOrEqual(t, stats.RealCount, uint64(1))
}

func TestTickInjectsDummyWhenQueueEmpty(t *testing.T) {
	r := NewRegistry(0)
	defer r.Close()
	r.Put("sess-1", newTestSession(t))

	s, err := NewScheduler(r, Options{TargetRateHz: 1000})
	require.NoError(t, err)
	defer s.Close()

	time.Sleep(20 * time.Millisecond)
	stats := s.Stats()
	assert.GreaterOrEqual(t, stats.DummyCount, uint64(1))
}

// TestTickPrioritizesAgedMessageOverDummyDraw pins DummyRate at its
// ceiling so every normal draw would inject a dummy, then waits past
// MaxQueueLatencyMs before ticking. The aging check must still win and
// dispatch the queued real message on schedule.
func TestTickPrioritizesAgedMessageOverDummyDraw(t *testing.T) {
	r := NewRegistry(0)
	defer r.Close()
	r.Put("sess-1", newTestSession(t))

	s, err := NewScheduler(r, Options{TargetRateHz: 1000, DummyRate: 1.0, MaxQueueLatencyMs: 10})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Enqueue("sess-1", []byte("payload")))
	time.Sleep(30 * time.Millisecond)

	stats := s.Stats()
	assert.GreaterOrEqual(t, stats.RealCount, uint64(1))
	assert.GreaterOrEqual(t, stats.AgedDispatches, uint64(1))
}

func TestDecodeMarkerRoundTrip(t *testing.T) {
	wire := append([]byte{markerReal}, []byte("hello")...)
	isDummy, payload, err := DecodeMarker(wire)
	require.NoError(t, err)
	assert.False(t, isDummy)
	assert.Equal(t, "hello", string(payload))

	wire = append([]byte{markerDummy}, []byte("cover")...)
	isDummy, payload, err = DecodeMarker(wire)
	require.NoError(t, err)
	assert.True(t, isDummy)
	assert.Equal(t, "cover", string(payload))
}

func TestDecodeMarkerRejectsEmpty(t *testing.T) {
	_, _, err := DecodeMarker(nil)
	require.Error(t, err)
}
