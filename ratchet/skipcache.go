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

package ratchet

import (
	"container/list"
	"sync"
)

type skipKey struct {
	ratchetCount uint64
	counter      uint64
}

// skippedKeyCache is the bounded out-of-order message-key cache: entries
// are evicted FIFO once the configured capacity is reached, zeroizing the
// evicted key. This generalizes the TTL-keyed NonceCache idiom (keyed
// sync.Map plus background GC) to a capacity-keyed cache with synchronous
// eviction on insert, since the ratchet needs deterministic bounds rather
// than a time-based sweep.
type skippedKeyCache struct {
	mu      sync.Mutex
	entries map[skipKey]*list.Element
	order   *list.List // front = oldest
}

type skipEntry struct {
	key skipKey
	msg []byte
}

func newSkippedKeyCache() *skippedKeyCache {
	return &skippedKeyCache{
		entries: make(map[skipKey]*list.Element),
		order:   list.New(),
	}
}

// Insert records messageKey for (ratchetCount, counter), evicting the
// oldest entry first if cap would otherwise be exceeded.
func (c *skippedKeyCache) Insert(ratchetCount, counter uint64, messageKey []byte, cap int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := skipKey{ratchetCount, counter}
	if _, exists := c.entries[k]; exists {
		return
	}
	for c.order.Len() >= cap && cap > 0 {
		c.evictOldestLocked()
	}
	el := c.order.PushBack(&skipEntry{key: k, msg: messageKey})
	c.entries[k] = el
}

// Take removes and returns the message key for (ratchetCount, counter), if
// present. A message key is used at most once: callers must not see it
// again after a successful Take.
func (c *skippedKeyCache) Take(ratchetCount, counter uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := skipKey{ratchetCount, counter}
	el, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*skipEntry)
	c.order.Remove(el)
	delete(c.entries, k)
	return entry.msg, true
}

// Len reports the current number of cached entries.
func (c *skippedKeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *skippedKeyCache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*skipEntry)
	clear(entry.msg)
	delete(c.entries, entry.key)
	c.order.Remove(front)
}
