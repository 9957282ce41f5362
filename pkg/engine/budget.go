/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package engine

// Budget counts open sockets for one engine. It is only touched between
// readiness waits, so it needs no locking.
type Budget struct {
	limit int
	inUse int
	peak  int
}

// NewBudget returns a budget admitting at most limit sockets.
// A limit <= 0 means unlimited.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// TryAcquire takes one unit if the budget has room.
func (b *Budget) TryAcquire() bool {
	if b.Full() {
		return false
	}

	b.Acquire()

	return true
}

// Acquire takes one unit regardless of the limit. Used for sockets the
// engine must open to finish work it already admitted.
func (b *Budget) Acquire() {
	b.inUse++
	if b.inUse > b.peak {
		b.peak = b.inUse
	}
}

// Release returns one unit.
func (b *Budget) Release() {
	if b.inUse > 0 {
		b.inUse--
	}
}

// Full reports whether the limit has been reached.
func (b *Budget) Full() bool {
	return b.limit > 0 && b.inUse >= b.limit
}

func (b *Budget) InUse() int { return b.inUse }
func (b *Budget) Limit() int { return b.limit }
func (b *Budget) Peak() int  { return b.peak }
