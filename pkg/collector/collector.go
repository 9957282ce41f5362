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

// Package collector gathers probe results and forwards them to
// downstream consumers.
package collector

import (
	"sort"
	"sync"

	"github.com/carverauto/sockmux/pkg/models"
)

// Sink receives terminal probe results.
type Sink interface {
	Record(result models.ProbeResult)
}

// Collector keeps every result it is given. It is safe to read from other
// goroutines while a probe pass records into it.
type Collector struct {
	mu      sync.Mutex
	results []models.ProbeResult
	open    int
}

// New returns an empty Collector.
func New() *Collector {
	return &Collector{}
}

// Record implements Sink.
func (c *Collector) Record(result models.ProbeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results = append(c.results, result)

	if result.Open {
		c.open++
	}
}

// Completed returns the results in the order they finished.
func (c *Collector) Completed() []models.ProbeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.ProbeResult, len(c.results))
	copy(out, c.results)

	return out
}

// Ordered returns the results sorted by input position.
func (c *Collector) Ordered() []models.ProbeResult {
	out := c.Completed()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out
}

// Len returns the number of results recorded.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.results)
}

// Summary returns how many targets were up and down.
func (c *Collector) Summary() (up, down int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.open, len(c.results) - c.open
}

// Reset drops all recorded results.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results = nil
	c.open = 0
}

// Fanout forwards each result to every sink in order.
type Fanout []Sink

// Record implements Sink.
func (f Fanout) Record(result models.ProbeResult) {
	for _, s := range f {
		if s != nil {
			s.Record(result)
		}
	}
}
