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

// Package engine implements a single-threaded, readiness-driven socket
// engine: non-blocking slots, a socket budget and a one-shot scheduler
// that waits on many sockets at once and dispatches their events.
package engine

//go:generate mockgen -destination=mock_engine.go -package=engine github.com/carverauto/sockmux/pkg/engine Waiter,Clock

import "time"

// Interest is the readiness a slot is waiting for. A slot never waits for
// both at once.
type Interest int

const (
	InterestNone Interest = iota
	InterestRead
	InterestWrite
)

func (i Interest) String() string {
	switch i {
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	default:
		return "none"
	}
}

// Waiter blocks until one of the given descriptors is ready or timeout
// elapses. A negative timeout waits forever. An interrupted wait returns
// an error wrapping ErrInterrupted; any other failure wraps ErrWaitFailed.
type Waiter interface {
	Wait(read, write []int, timeout time.Duration) (ReadySet, error)
}

// Clock abstracts time so deadlines can be tested.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return realClock{} }

// ReadySet is the result of one readiness wait.
type ReadySet struct {
	readable map[int]struct{}
	writable map[int]struct{}
}

// NewReadySet builds a ReadySet, mainly for tests and alternative waiters.
func NewReadySet(readable, writable []int) ReadySet {
	var s ReadySet

	for _, fd := range readable {
		s.markReadable(fd)
	}

	for _, fd := range writable {
		s.markWritable(fd)
	}

	return s
}

func (s *ReadySet) markReadable(fd int) {
	if s.readable == nil {
		s.readable = make(map[int]struct{})
	}

	s.readable[fd] = struct{}{}
}

func (s *ReadySet) markWritable(fd int) {
	if s.writable == nil {
		s.writable = make(map[int]struct{})
	}

	s.writable[fd] = struct{}{}
}

func (s ReadySet) Readable(fd int) bool {
	_, ok := s.readable[fd]

	return ok
}

func (s ReadySet) Writable(fd int) bool {
	_, ok := s.writable[fd]

	return ok
}

// Len returns the number of ready descriptors.
func (s ReadySet) Len() int {
	return len(s.readable) + len(s.writable)
}
