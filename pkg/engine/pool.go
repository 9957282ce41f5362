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

// Pool is an ordered collection of live items. Items are appended on
// admission and removed in place by Sweep, preserving order.
type Pool[T any] struct {
	items []T
}

// Add appends item.
func (p *Pool[T]) Add(item T) {
	p.items = append(p.items, item)
}

// Len returns the number of items.
func (p *Pool[T]) Len() int { return len(p.items) }

// Items returns the items in admission order. The slice is only valid
// until the next Add or Sweep.
func (p *Pool[T]) Items() []T { return p.items }

// Sweep removes every item for which keep returns false and returns the
// number removed.
func (p *Pool[T]) Sweep(keep func(T) bool) int {
	kept := p.items[:0]

	for _, item := range p.items {
		if keep(item) {
			kept = append(kept, item)
		}
	}

	removed := len(p.items) - len(kept)

	var zero T
	for i := len(kept); i < len(p.items); i++ {
		p.items[i] = zero
	}

	p.items = kept

	return removed
}
