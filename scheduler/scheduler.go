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
	"container/list"
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/b4ae-project/b4ae/internal/logger"
	"github.com/b4ae-project/b4ae/ratchet"
)

// dummyPayloadBuckets are the candidate sizes a dummy message's random
// payload is drawn from, so dummy traffic isn't trivially fingerprinted
// by always carrying the same length.
var dummyPayloadBuckets = []int{64, 256, 1024, 4096}

const (
	markerReal  byte = 0x01
	markerDummy byte = 0x00
)

// ScheduledMessage is one unit of traffic waiting for its pacing slot.
type ScheduledMessage struct {
	SessionID   string
	Payload     []byte
	IsDummy     bool
	EnqueueTime time.Time
}

// Statistics are the scheduler's read-only counters.
type Statistics struct {
	RealCount       uint64
	DummyCount      uint64
	TotalBytes      uint64
	AvgQueueLatency time.Duration
	AgedDispatches  uint64
}

// Options configures a Scheduler. Zero values are replaced by
// withDefaults with the protocol's stated defaults.
type Options struct {
	TargetRateHz      float64 // range [10, 1000]
	DummyRate         float64 // range [0.20, 1.00]
	MaxQueueDepth     int
	MaxQueueBytes     int
	MaxQueueLatencyMs int

	// OnDispatch is called once per pacing tick with the encrypted wire
	// message, real or dummy, so a caller can actually hand it to a
	// transport. The scheduler itself never touches a socket; leaving
	// this nil is valid for tests that only care about pacing behavior.
	OnDispatch func(sessionID string, msg *ratchet.Message, isDummy bool)
}

func (o Options) withDefaults() Options {
	if o.TargetRateHz == 0 {
		o.TargetRateHz = 50
	}
	if o.DummyRate == 0 {
		o.DummyRate = 0.20
	}
	if o.MaxQueueDepth == 0 {
		o.MaxQueueDepth = 10_000
	}
	if o.MaxQueueBytes == 0 {
		o.MaxQueueBytes = 100 * 1024 * 1024
	}
	if o.MaxQueueLatencyMs == 0 {
		o.MaxQueueLatencyMs = 5_000
	}
	return o
}

// Scheduler is the process-wide pacer and dummy injector. One instance
// serves every session tracked by its Registry.
type Scheduler struct {
	mu         sync.Mutex
	queue      *list.List
	queueBytes int
	opts       Options

	registry *Registry
	rng      *rand.Rand

	stats        Statistics
	latencySum   time.Duration
	latencyCount uint64

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler starts the background pacer immediately. Call Close to
// stop it.
func NewScheduler(registry *Registry, opts Options) (*Scheduler, error) {
	opts = opts.withDefaults()
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		return nil, logger.NewProtocolError(logger.CodeInternal, "failed to seed scheduler rng", err)
	}
	src := rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:]))

	s := &Scheduler{
		queue:    list.New(),
		opts:     opts,
		registry: registry,
		rng:      rand.New(src),
		ticker:   time.NewTicker(time.Duration(float64(time.Second) / opts.TargetRateHz)),
		stop:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Close stops the pacer loop.
func (s *Scheduler) Close() {
	close(s.stop)
	s.ticker.Stop()
	s.wg.Wait()
}

// Enqueue admits a real message, rejecting it with QueueFull if either
// bound would be exceeded.
func (s *Scheduler) Enqueue(sessionID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() >= s.opts.MaxQueueDepth {
		return logger.NewProtocolError(logger.CodeQueueFull, "scheduler queue depth limit reached", nil)
	}
	if s.queueBytes+len(payload) > s.opts.MaxQueueBytes {
		return logger.NewProtocolError(logger.CodeQueueFull, "scheduler queue byte limit reached", nil)
	}
	s.queue.PushBack(&ScheduledMessage{
		SessionID:   sessionID,
		Payload:     payload,
		EnqueueTime: time.Now(),
	})
	s.queueBytes += len(payload)
	return nil
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

// tick runs one pacing slot: dequeue a real message, or inject a dummy
// when the queue is empty or the dummy-rate draw calls for one. Popping
// from the front of the queue on every slot is what keeps any one
// session's latency bounded: nothing can sit behind more than
// max_queue_depth other entries.
//
// The front entry's age is checked against MaxQueueLatencyMs before the
// dummy draw: a session whose oldest queued message is at risk of
// breaching the deadline is dispatched this slot regardless of the draw,
// so a high dummy_rate can never starve a real message past its budget.
func (s *Scheduler) tick() {
	s.mu.Lock()
	var msg *ScheduledMessage
	aged := false
	if s.queue.Len() > 0 {
		front := s.queue.Front().Value.(*ScheduledMessage)
		if time.Since(front.EnqueueTime) >= time.Duration(s.opts.MaxQueueLatencyMs)*time.Millisecond {
			aged = true
		}
	}
	injectDummy := !aged && (s.queue.Len() == 0 || s.rng.Float64() < s.opts.DummyRate)
	if injectDummy {
		msg = s.buildDummyLocked()
	} else {
		front := s.queue.Front()
		msg = front.Value.(*ScheduledMessage)
		s.queue.Remove(front)
		s.queueBytes -= len(msg.Payload)
	}
	s.mu.Unlock()

	if msg != nil {
		s.dispatch(msg, aged)
	}
}

func (s *Scheduler) buildDummyLocked() *ScheduledMessage {
	sid, ok := s.registry.RandomSessionID(s.rng)
	if !ok {
		return nil
	}
	size := dummyPayloadBuckets[s.rng.IntN(len(dummyPayloadBuckets))]
	payload := make([]byte, size)
	_, _ = cryptorand.Read(payload)
	return &ScheduledMessage{
		SessionID:   sid,
		Payload:     payload,
		IsDummy:     true,
		EnqueueTime: time.Now(),
	}
}

// dispatch runs msg through its owning session's encrypt path so dummy
// and real traffic are cryptographically indistinguishable on the wire,
// then hands the result to OnDispatch for actual transport delivery.
// aged records whether this dispatch was forced by the aging policy
// rather than the normal FIFO/dummy draw.
func (s *Scheduler) dispatch(msg *ScheduledMessage, aged bool) {
	session, ok := s.registry.Get(msg.SessionID)
	if !ok {
		return
	}
	marker := markerReal
	if msg.IsDummy {
		marker = markerDummy
	}
	wire := append([]byte{marker}, msg.Payload...)
	ciphertext, err := session.Encrypt(wire)
	if err != nil {
		return
	}
	if s.opts.OnDispatch != nil {
		s.opts.OnDispatch(msg.SessionID, ciphertext, msg.IsDummy)
	}
	s.recordStats(msg, aged)
}

func (s *Scheduler) recordStats(msg *ScheduledMessage, aged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.IsDummy {
		s.stats.DummyCount++
	} else {
		s.stats.RealCount++
		s.latencySum += time.Since(msg.EnqueueTime)
		s.latencyCount++
		s.stats.AvgQueueLatency = s.latencySum / time.Duration(s.latencyCount)
		if aged {
			s.stats.AgedDispatches++
		}
	}
	s.stats.TotalBytes += uint64(len(msg.Payload))
}

// DecodeMarker strips the in-band real/dummy marker a receiver observes
// only after successfully decrypting a message.
func DecodeMarker(plaintext []byte) (isDummy bool, payload []byte, err error) {
	if len(plaintext) == 0 {
		return false, nil, logger.NewProtocolError(logger.CodeInvalidInput, "decrypted message is empty", nil)
	}
	return plaintext[0] == markerDummy, plaintext[1:], nil
}
