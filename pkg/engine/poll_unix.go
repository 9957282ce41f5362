//go:build linux || darwin

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
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PollWaiter implements Waiter with poll(2).
type PollWaiter struct {
	fds []unix.PollFd
}

// NewPollWaiter returns a poll(2) based Waiter.
func NewPollWaiter() *PollWaiter {
	return &PollWaiter{}
}

// Wait implements Waiter.
func (p *PollWaiter) Wait(read, write []int, timeout time.Duration) (ReadySet, error) {
	p.fds = p.fds[:0]

	for _, fd := range read {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}) // #nosec G115
	}

	for _, fd := range write {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT}) // #nosec G115
	}

	n, err := unix.Poll(p.fds, pollTimeout(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return ReadySet{}, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		return ReadySet{}, fmt.Errorf("%w: %w", ErrWaitFailed, err)
	}

	if n == 0 {
		return ReadySet{}, nil
	}

	var set ReadySet

	for i := range p.fds {
		pfd := &p.fds[i]
		if pfd.Revents == 0 {
			continue
		}

		// POLLERR/POLLHUP also report as ready so the handler observes the error.
		if i < len(read) {
			set.markReadable(int(pfd.Fd))
		} else {
			set.markWritable(int(pfd.Fd))
		}
	}

	return set, nil
}

func pollTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}

	ms := int(d / time.Millisecond)
	if ms == 0 && d > 0 {
		ms = 1
	}

	return ms
}
