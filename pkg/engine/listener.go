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
)

const defaultBacklog = 512

// Listener is a non-blocking listening socket.
type Listener struct {
	fd   int
	addr netip.AddrPort
}

// Listen binds addr and starts listening. A zero port picks a free one.
func Listen(addr netip.AddrPort, backlog int) (*Listener, error) {
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	fd, err := listenTCP(addr, backlog)
	if err != nil {
		return nil, err
	}

	bound, err := localAddr(fd)
	if err != nil {
		_ = closeFD(fd)

		return nil, err
	}

	return &Listener{fd: fd, addr: bound}, nil
}

// FD returns the listening descriptor.
func (l *Listener) FD() int { return l.fd }

// Addr returns the bound address.
func (l *Listener) Addr() netip.AddrPort { return l.addr }

// Accept takes one pending connection and counts it against budget. It
// returns (nil, nil) when nothing is pending. Callers gate on the budget
// before calling Accept so refused clients stay in the backlog.
func (l *Listener) Accept(budget *Budget) (*Slot, error) {
	fd, peer, err := acceptFD(l.fd)
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			return nil, nil
		}

		return nil, err
	}

	return adopt(fd, peer, budget), nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}

	err := closeFD(l.fd)
	l.fd = -1

	return err
}
