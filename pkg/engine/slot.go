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
	"errors"
	"net/netip"
	"time"
)

// State is the position of a slot in its owner's state machine.
type State int

const (
	StateIdle State = iota

	// Probe states.
	StateConnecting
	StateWritePending
	StateReadPending

	// Relay states.
	StateReqReading
	StateReqReady
	StateReqConnecting
	StateReqSending
	StateReqDone
	StateRespReading
	StateRespReady
	StateRespSending
	StateRespDone

	StateCleanup
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateConnecting:    "connecting",
	StateWritePending:  "write_pending",
	StateReadPending:   "read_pending",
	StateReqReading:    "req_reading",
	StateReqReady:      "req_ready",
	StateReqConnecting: "req_connecting",
	StateReqSending:    "req_sending",
	StateReqDone:       "req_done",
	StateRespReading:   "resp_reading",
	StateRespReady:     "resp_ready",
	StateRespSending:   "resp_sending",
	StateRespDone:      "resp_done",
	StateCleanup:       "cleanup",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}

	return "unknown"
}

// Slot is one non-blocking socket plus its bookkeeping. A slot holds at
// most one descriptor; closing it returns its budget unit exactly once.
type Slot struct {
	fd     int
	peer   netip.AddrPort
	budget *Budget

	State State
	Buf   Buffer

	connectPending bool

	ConnectStarted  time.Time
	ConnectDuration time.Duration
	Deadline        time.Time
	BytesRead       int
	BytesWritten    int
	Err             error
}

// Open creates a socket for peer, taking a budget unit only if one is
// free. The slot starts in StateIdle.
func Open(peer netip.AddrPort, budget *Budget) (*Slot, error) {
	if budget != nil && !budget.TryAcquire() {
		return nil, ErrBudgetExhausted
	}

	return open(peer, budget)
}

// OpenCounted creates a socket for peer and counts it against budget even
// when the budget is full.
func OpenCounted(peer netip.AddrPort, budget *Budget) (*Slot, error) {
	if budget != nil {
		budget.Acquire()
	}

	return open(peer, budget)
}

func open(peer netip.AddrPort, budget *Budget) (*Slot, error) {
	fd, err := newSocket(peer)
	if err != nil {
		if budget != nil {
			budget.Release()
		}

		return nil, err
	}

	return &Slot{fd: fd, peer: peer, budget: budget}, nil
}

// adopt wraps an already connected descriptor.
func adopt(fd int, peer netip.AddrPort, budget *Budget) *Slot {
	if budget != nil {
		budget.Acquire()
	}

	return &Slot{fd: fd, peer: peer, budget: budget}
}

// FD returns the descriptor, or -1 once closed.
func (s *Slot) FD() int { return s.fd }

// Peer returns the remote address.
func (s *Slot) Peer() netip.AddrPort { return s.peer }

// IsOpen reports whether the slot still holds a descriptor.
func (s *Slot) IsOpen() bool { return s.fd >= 0 }

// ConnectPending reports whether a connect was started and its outcome
// has not been checked yet.
func (s *Slot) ConnectPending() bool { return s.connectPending }

// BeginConnect starts a non-blocking connect and moves the slot to next.
// Immediate failures are returned classified and leave the state alone.
func (s *Slot) BeginConnect(now time.Time, next State) error {
	s.ConnectStarted = now

	if err := connectSocket(s.fd, s.peer); err != nil {
		s.Err = err

		return err
	}

	s.connectPending = true
	s.State = next

	return nil
}

// ResolveConnect checks the outcome of a pending connect after the first
// writability event.
func (s *Slot) ResolveConnect(now time.Time) error {
	s.connectPending = false

	if err := socketError(s.fd); err != nil {
		s.Err = err

		return err
	}

	s.ConnectDuration = now.Sub(s.ConnectStarted)

	return nil
}

// WriteSome writes as much of Buf as the socket accepts. done is true once
// the buffer is fully consumed.
func (s *Slot) WriteSome() (done bool, err error) {
	if s.Buf.Len() == 0 {
		return true, nil
	}

	n, err := writeFD(s.fd, s.Buf.Bytes())
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			return false, nil
		}

		s.Err = err

		return false, err
	}

	s.Buf.Consume(n)
	s.BytesWritten += n

	return s.Buf.Len() == 0, nil
}

// ReadOnce performs a single read into p. n == 0 with a nil error means
// the peer closed the connection or nothing was available.
func (s *Slot) ReadOnce(p []byte) (int, error) {
	n, err := readFD(s.fd, p)
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			return 0, nil
		}

		s.Err = err

		return 0, err
	}

	s.BytesRead += n

	return n, nil
}

// ReadChunk appends whatever is available to Buf. eof is true when the
// peer has closed its side.
func (s *Slot) ReadChunk() (eof bool, err error) {
	n, err := readFD(s.fd, s.Buf.Free())
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			return false, nil
		}

		s.Err = err

		return false, err
	}

	if n == 0 {
		return true, nil
	}

	s.Buf.Commit(n)
	s.BytesRead += n

	return false, nil
}

// ShutdownWrite half-closes the sending side.
func (s *Slot) ShutdownWrite() error {
	if s.fd < 0 {
		return nil
	}

	return shutdownFD(s.fd, true)
}

// Shutdown closes both directions without releasing the descriptor.
func (s *Slot) Shutdown() error {
	if s.fd < 0 {
		return nil
	}

	return shutdownFD(s.fd, false)
}

// Close releases the descriptor and its budget unit. It is safe to call
// more than once.
func (s *Slot) Close() error {
	s.connectPending = false

	if s.fd < 0 {
		return nil
	}

	err := closeFD(s.fd)
	s.fd = -1

	if s.budget != nil {
		s.budget.Release()
	}

	return err
}

// Expired reports whether the slot has a deadline that has passed.
func (s *Slot) Expired(now time.Time) bool {
	return !s.Deadline.IsZero() && !now.Before(s.Deadline)
}
