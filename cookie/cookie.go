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

// Package cookie implements the stateless HMAC cookie challenge that
// protects the handshake's CookieChallenge phase from resource-exhaustion
// attacks: the server never stores per-client state, only a rotating
// secret and a replay-detecting Bloom filter.
package cookie

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/internal/metrics"
	"github.com/b4ae-project/b4ae/primitives"
)

const (
	// Validity is the default duration a cookie remains acceptable after
	// issuance, per cookie_validity_seconds' default of 30.
	Validity = 30 * time.Second
	// RotationInterval is the default interval the server secret is
	// rotated at, per cookie_secret_rotation_hours' default of 24.
	RotationInterval = 24 * time.Hour
)

// Options overrides Challenger's timing. Zero values fall back to
// Validity and RotationInterval.
type Options struct {
	Validity         time.Duration
	RotationInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Validity <= 0 {
		o.Validity = Validity
	}
	if o.RotationInterval <= 0 {
		o.RotationInterval = RotationInterval
	}
	return o
}

// Challenger holds the process-wide rotating secret and replay filter.
// One Challenger serves every inbound handshake; it is safe for
// concurrent use.
type Challenger struct {
	mu       sync.RWMutex
	current  [32]byte
	previous [32]byte
	hasPrev  bool
	bloom    *BloomFilter
	validity time.Duration

	stop chan struct{}
	tick *time.Ticker
}

// NewChallenger samples an initial secret and starts the rotation timer.
// An optional Options overrides the default 30s validity window and 24h
// rotation interval. Call Close to stop the background rotation
// goroutine.
func NewChallenger(opts ...Options) (*Challenger, error) {
	o := Options{}.withDefaults()
	if len(opts) > 0 {
		o = opts[0].withDefaults()
	}
	c := &Challenger{
		bloom:    newBloomFilter(),
		validity: o.Validity,
		stop:     make(chan struct{}),
		tick:     time.NewTicker(o.RotationInterval),
	}
	if _, err := rand.Read(c.current[:]); err != nil {
		return nil, logger.NewProtocolError(logger.CodeInternal, "failed to sample cookie secret", err)
	}
	go c.rotateLoop()
	return c, nil
}

// Close stops the background rotation goroutine.
func (c *Challenger) Close() {
	close(c.stop)
	c.tick.Stop()
}

func (c *Challenger) rotateLoop() {
	for {
		select {
		case <-c.tick.C:
			c.rotate()
		case <-c.stop:
			return
		}
	}
}

func (c *Challenger) rotate() {
	var next [32]byte
	if _, err := rand.Read(next[:]); err != nil {
		// A failed rotation keeps the current secret in place rather than
		// risk installing a zero/partial secret; the next tick retries.
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previous = c.current
	c.hasPrev = true
	c.current = next
}

// Issue computes a cookie for (clientAddr, clientRandom) at the current
// time, with no server-side state retained.
func (c *Challenger) Issue(clientAddr, clientRandom []byte) (cookieVal []byte, timestamp uint64) {
	start := time.Now()
	ts := uint64(time.Now().Unix())
	c.mu.RLock()
	secret := c.current
	c.mu.RUnlock()
	cookieVal = computeCookie(secret[:], clientAddr, ts, clientRandom)
	metrics.GetGlobalCollector().RecordCookieIssue(time.Since(start))
	return cookieVal, ts
}

// Verify checks a cookie presented back by the client: age, HMAC validity
// under either the current or previous secret epoch, and replay via the
// Bloom filter. Every failure path is reported as AuthenticationFailed
// per the error taxonomy.
func (c *Challenger) Verify(clientAddr, clientRandom, cookieVal []byte, timestamp uint64) error {
	now := uint64(time.Now().Unix())
	if timestamp > now || now-timestamp > uint64(c.validity.Seconds()) {
		metrics.GetGlobalCollector().RecordCookieVerify(false)
		return logger.NewProtocolError(logger.CodeAuthenticationFailed, "cookie has expired or has a future timestamp", nil)
	}

	c.mu.RLock()
	current := c.current
	previous := c.previous
	hasPrev := c.hasPrev
	c.mu.RUnlock()

	expectedCurrent := computeCookie(current[:], clientAddr, timestamp, clientRandom)
	matchesCurrent := primitives.CTEqual(cookieVal, expectedCurrent)
	matchesPrevious := false
	if hasPrev {
		expectedPrevious := computeCookie(previous[:], clientAddr, timestamp, clientRandom)
		matchesPrevious = primitives.CTEqual(cookieVal, expectedPrevious)
	}
	if !(matchesCurrent || matchesPrevious) {
		metrics.GetGlobalCollector().RecordCookieVerify(false)
		return logger.NewProtocolError(logger.CodeAuthenticationFailed, "cookie does not match current or previous epoch secret", nil)
	}

	if c.bloom.CheckAndInsert(clientRandom) {
		metrics.GetGlobalCollector().RecordCookieVerify(false)
		return logger.NewProtocolError(logger.CodeAuthenticationFailed, "client_random has already been observed", nil)
	}
	metrics.GetGlobalCollector().RecordCookieVerify(true)
	return nil
}

func computeCookie(secret, clientAddr []byte, timestamp uint64, clientRandom []byte) []byte {
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], timestamp)
	return primitives.HMACSHA256(secret, clientAddr, tsBytes[:], clientRandom)
}
