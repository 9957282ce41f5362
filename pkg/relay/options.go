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

// Package relay moves messages between peers on top of the socket engine.
// The pull relay polls client daemons for queued sub-messages and forwards
// each one to a central server; the pass-through relay accepts connections
// and forwards each request verbatim to a fixed upstream.
package relay

import (
	"math/rand/v2"
	"time"

	"github.com/carverauto/sockmux/pkg/engine"
)

type options struct {
	waiter   engine.Waiter
	clock    engine.Clock
	metrics  *engine.Metrics
	observer SessionObserver
	rng      *rand.Rand
}

// Option customizes a relay.
type Option func(*options)

// WithWaiter replaces the poll(2) readiness waiter.
func WithWaiter(w engine.Waiter) Option {
	return func(o *options) { o.waiter = w }
}

// WithClock replaces the system clock.
func WithClock(c engine.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics records engine metrics.
func WithMetrics(m *engine.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithObserver reports every finished session to obs.
func WithObserver(obs SessionObserver) Option {
	return func(o *options) { o.observer = obs }
}

// WithRand sets the random source used for poll jitter.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

func buildOptions(opts []Option) options {
	o := options{clock: engine.SystemClock()}

	for _, opt := range opts {
		opt(&o)
	}

	if o.waiter == nil {
		o.waiter = engine.NewPollWaiter()
	}

	if o.rng == nil {
		seed := uint64(time.Now().UnixNano()) // #nosec G115

		o.rng = rand.New(rand.NewPCG(seed, seed>>1)) // #nosec G404
	}

	return o
}
