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

package relay

import (
	"sync/atomic"
	"time"

	"github.com/carverauto/sockmux/pkg/engine"
	"github.com/carverauto/sockmux/pkg/models"
)

// SessionReport describes one finished relay session.
type SessionReport struct {
	Seq      uint64
	Role     models.PeerRole
	Peer     string
	Client   string
	Bytes    int
	Duration time.Duration
	Err      error
}

// SessionObserver is told about every finished session. It is called from
// the relay's loop and must not block.
type SessionObserver interface {
	SessionDone(report SessionReport)
}

// PullStats counts pull relay activity. Fields may be read from any
// goroutine.
type PullStats struct {
	Polls          atomic.Int64
	PollFailures   atomic.Int64
	Forwarded      atomic.Int64
	ForwardErrors  atomic.Int64
	CorruptBatches atomic.Int64
	ConfigsCached  atomic.Int64
	Timeouts       atomic.Int64
}

// PullSnapshot is a point-in-time copy of PullStats.
type PullSnapshot struct {
	Polls          int64 `json:"polls"`
	PollFailures   int64 `json:"poll_failures"`
	Forwarded      int64 `json:"forwarded"`
	ForwardErrors  int64 `json:"forward_errors"`
	CorruptBatches int64 `json:"corrupt_batches"`
	ConfigsCached  int64 `json:"configs_cached"`
	Timeouts       int64 `json:"timeouts"`
}

// Snapshot copies the counters.
func (s *PullStats) Snapshot() PullSnapshot {
	return PullSnapshot{
		Polls:          s.Polls.Load(),
		PollFailures:   s.PollFailures.Load(),
		Forwarded:      s.Forwarded.Load(),
		ForwardErrors:  s.ForwardErrors.Load(),
		CorruptBatches: s.CorruptBatches.Load(),
		ConfigsCached:  s.ConfigsCached.Load(),
		Timeouts:       s.Timeouts.Load(),
	}
}

// ProxyStats counts pass-through relay activity. Fields may be read from
// any goroutine.
type ProxyStats struct {
	Accepted  atomic.Int64
	Delivered atomic.Int64
	Recovered atomic.Int64
	Lost      atomic.Int64
	PeakOpen  atomic.Int64

	TimeoutReqReading  atomic.Int64
	TimeoutReqSending  atomic.Int64
	TimeoutRespReading atomic.Int64
	TimeoutRespSending atomic.Int64
}

// ProxySnapshot is a point-in-time copy of ProxyStats.
type ProxySnapshot struct {
	Accepted  int64 `json:"accepted"`
	Delivered int64 `json:"delivered"`
	Recovered int64 `json:"recovered"`
	Lost      int64 `json:"lost"`
	PeakOpen  int64 `json:"peak_open"`

	TimeoutReqReading  int64 `json:"timeout_req_reading"`
	TimeoutReqSending  int64 `json:"timeout_req_sending"`
	TimeoutRespReading int64 `json:"timeout_resp_reading"`
	TimeoutRespSending int64 `json:"timeout_resp_sending"`
}

// Snapshot copies the counters.
func (s *ProxyStats) Snapshot() ProxySnapshot {
	return ProxySnapshot{
		Accepted:           s.Accepted.Load(),
		Delivered:          s.Delivered.Load(),
		Recovered:          s.Recovered.Load(),
		Lost:               s.Lost.Load(),
		PeakOpen:           s.PeakOpen.Load(),
		TimeoutReqReading:  s.TimeoutReqReading.Load(),
		TimeoutReqSending:  s.TimeoutReqSending.Load(),
		TimeoutRespReading: s.TimeoutRespReading.Load(),
		TimeoutRespSending: s.TimeoutRespSending.Load(),
	}
}

func (s *ProxyStats) recordTimeout(state engine.State) {
	switch state {
	case engine.StateReqReading:
		s.TimeoutReqReading.Add(1)
	case engine.StateReqConnecting, engine.StateReqReady, engine.StateReqSending:
		s.TimeoutReqSending.Add(1)
	case engine.StateRespReading:
		s.TimeoutRespReading.Add(1)
	case engine.StateRespSending:
		s.TimeoutRespSending.Add(1)
	default:
	}
}

func (s *ProxyStats) observeOpen(n int) {
	for {
		peak := s.PeakOpen.Load()
		if int64(n) <= peak || s.PeakOpen.CompareAndSwap(peak, int64(n)) {
			return
		}
	}
}
