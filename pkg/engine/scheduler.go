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

import (
	"context"
	"errors"
	"time"
)

// Handler is anything the scheduler can wait on: a slot wrapper or a
// listener. Interest is sampled once per wait; a handler reporting
// InterestNone or a negative fd is skipped.
type Handler interface {
	Interest() (fd int, interest Interest)
	OnReadable(now time.Time)
	OnWritable(now time.Time)
}

// Outcome describes one scheduler iteration.
type Outcome struct {
	Ready       int
	TimedOut    bool
	Interrupted bool
	Now         time.Time
}

type watch struct {
	h        Handler
	fd       int
	interest Interest
}

// Scheduler runs one readiness wait at a time over a set of handlers.
type Scheduler struct {
	waiter  Waiter
	clock   Clock
	metrics *Metrics

	watches []watch
	read    []int
	write   []int
}

// NewScheduler wires a scheduler. A nil clock uses the system clock and
// nil metrics disables instrumentation.
func NewScheduler(waiter Waiter, clock Clock, metrics *Metrics) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}

	return &Scheduler{waiter: waiter, clock: clock, metrics: metrics}
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() Clock { return s.clock }

// RunOnce waits until a handler is ready or timeout elapses, then
// dispatches events in handler order. Handlers must not be added while
// RunOnce is dispatching. An interrupted wait is reported in the outcome,
// not as an error; any other wait failure is returned wrapping
// ErrWaitFailed and is fatal for the caller.
func (s *Scheduler) RunOnce(ctx context.Context, handlers []Handler, timeout time.Duration) (Outcome, error) {
	s.watches = s.watches[:0]
	s.read = s.read[:0]
	s.write = s.write[:0]

	for _, h := range handlers {
		fd, interest := h.Interest()
		if fd < 0 || interest == InterestNone {
			continue
		}

		s.watches = append(s.watches, watch{h: h, fd: fd, interest: interest})

		if interest == InterestRead {
			s.read = append(s.read, fd)
		} else {
			s.write = append(s.write, fd)
		}
	}

	ready, err := s.waiter.Wait(s.read, s.write, timeout)
	now := s.clock.Now()

	s.metrics.recordIteration(ctx)

	if err != nil {
		if errors.Is(err, ErrInterrupted) {
			s.metrics.recordInterrupt(ctx)

			return Outcome{Interrupted: true, Now: now}, nil
		}

		if !errors.Is(err, ErrWaitFailed) {
			err = errors.Join(ErrWaitFailed, err)
		}

		return Outcome{Now: now}, err
	}

	if ready.Len() == 0 {
		s.metrics.recordTimeout(ctx)

		return Outcome{TimedOut: true, Now: now}, nil
	}

	out := Outcome{Now: now}

	for _, w := range s.watches {
		switch w.interest {
		case InterestRead:
			if ready.Readable(w.fd) {
				out.Ready++
				w.h.OnReadable(now)
			}
		case InterestWrite:
			if ready.Writable(w.fd) {
				out.Ready++
				w.h.OnWritable(now)
			}
		case InterestNone:
		}
	}

	s.metrics.recordReady(ctx, out.Ready)

	return out, nil
}
