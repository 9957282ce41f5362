//go:build !linux && !darwin

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
	"net/netip"
	"time"
)

func newSocket(netip.AddrPort) (int, error) { return -1, ErrUnsupportedPlatform }
func connectSocket(int, netip.AddrPort) error { return ErrUnsupportedPlatform }
func socketError(int) error { return ErrUnsupportedPlatform }
func readFD(int, []byte) (int, error) { return 0, ErrUnsupportedPlatform }
func writeFD(int, []byte) (int, error) { return 0, ErrUnsupportedPlatform }
func shutdownFD(int, bool) error { return ErrUnsupportedPlatform }
func closeFD(int) error { return ErrUnsupportedPlatform }
func listenTCP(netip.AddrPort, int) (int, error) { return -1, ErrUnsupportedPlatform }
func localAddr(int) (netip.AddrPort, error) { return netip.AddrPort{}, ErrUnsupportedPlatform }
func acceptFD(int) (int, netip.AddrPort, error) { return -1, netip.AddrPort{}, ErrUnsupportedPlatform }

// PollWaiter is unavailable on this platform.
type PollWaiter struct{}

// NewPollWaiter returns a waiter whose Wait always fails.
func NewPollWaiter() *PollWaiter { return &PollWaiter{} }

// Wait implements Waiter.
func (*PollWaiter) Wait(_, _ []int, _ time.Duration) (ReadySet, error) {
	return ReadySet{}, ErrUnsupportedPlatform
}
