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
	"net/netip"

	"golang.org/x/sys/unix"
)

func sockaddrOf(ap netip.AddrPort) (unix.Sockaddr, int, error) {
	if !ap.IsValid() {
		return nil, 0, ErrInvalidAddress
	}

	addr := ap.Addr().Unmap()

	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}, unix.AF_INET, nil
	}

	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}

	return sa, unix.AF_INET6, nil
}

func addrPortOf(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)) // #nosec G115
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port)) // #nosec G115
	default:
		return netip.AddrPort{}
	}
}

// newSocket creates a non-blocking, close-on-exec TCP socket for ap.
func newSocket(ap netip.AddrPort) (int, error) {
	_, family, err := sockaddrOf(ap)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, classifySocketErr(err)
	}

	if err := prepare(fd); err != nil {
		_ = unix.Close(fd)

		return -1, err
	}

	return fd, nil
}

func prepare(fd int) error {
	unix.CloseOnExec(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("%w: set non-blocking: %w", ErrUnexpected, err)
	}

	return nil
}

// connectSocket starts a non-blocking connect. A nil return means the
// connection is established or in progress; the outcome is known on the
// first writability of fd.
func connectSocket(fd int, ap netip.AddrPort) error {
	sa, _, err := sockaddrOf(ap)
	if err != nil {
		return err
	}

	err = unix.Connect(fd, sa)
	if err == nil || errors.Is(err, unix.EINPROGRESS) || errors.Is(err, unix.EINTR) {
		return nil
	}

	return classifyConnectErr(err)
}

// socketError fetches and classifies the pending error of a connecting socket.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("%w: getsockopt: %w", ErrUnexpected, err)
	}

	if errno == 0 {
		return nil
	}

	return classifyConnectErr(unix.Errno(errno)) // #nosec G115
}

func readFD(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil {
		return 0, classifyIOErr(err)
	}

	return n, nil
}

func writeFD(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		return 0, classifyIOErr(err)
	}

	return n, nil
}

func shutdownFD(fd int, write bool) error {
	how := unix.SHUT_RDWR
	if write {
		how = unix.SHUT_WR
	}

	if err := unix.Shutdown(fd, how); err != nil && !errors.Is(err, unix.ENOTCONN) {
		return classifyIOErr(err)
	}

	return nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

// listenTCP opens a non-blocking listening socket bound to ap.
func listenTCP(ap netip.AddrPort, backlog int) (int, error) {
	sa, family, err := sockaddrOf(ap)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, classifySocketErr(err)
	}

	fail := func(op string, err error) (int, error) {
		_ = unix.Close(fd)

		return -1, fmt.Errorf("%s %s: %w", op, ap, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}

	if err := prepare(fd); err != nil {
		return fail("prepare", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	return fd, nil
}

// acceptFD takes one pending connection off a listening socket.
func acceptFD(lfd int) (int, netip.AddrPort, error) {
	fd, sa, err := unix.Accept(lfd)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) ||
			errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
			return -1, netip.AddrPort{}, errWouldBlock
		}

		return -1, netip.AddrPort{}, classifySocketErr(err)
	}

	if err := prepare(fd); err != nil {
		_ = unix.Close(fd)

		return -1, netip.AddrPort{}, err
	}

	return fd, addrPortOf(sa), nil
}

func localAddr(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, err
	}

	return addrPortOf(sa), nil
}

func classifySocketErr(err error) error {
	switch {
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE),
		errors.Is(err, unix.ENOBUFS), errors.Is(err, unix.ENOMEM),
		errors.Is(err, unix.EACCES), errors.Is(err, unix.EPROTONOSUPPORT),
		errors.Is(err, unix.EAFNOSUPPORT), errors.Is(err, unix.EINVAL):
		return fmt.Errorf("%w: %w", ErrNoSocket, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
}

func classifyConnectErr(err error) error {
	switch {
	case errors.Is(err, unix.ECONNREFUSED), errors.Is(err, unix.ECONNRESET):
		return fmt.Errorf("%w: %w", ErrRefused, err)
	case errors.Is(err, unix.EHOSTUNREACH), errors.Is(err, unix.ENETUNREACH),
		errors.Is(err, unix.EHOSTDOWN), errors.Is(err, unix.ENETDOWN):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	case errors.Is(err, unix.ETIMEDOUT):
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
}

func classifyIOErr(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
		return errWouldBlock
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE),
		errors.Is(err, unix.ENOTCONN), errors.Is(err, unix.ECONNABORTED):
		return fmt.Errorf("%w: %w", ErrPeerClosed, err)
	case errors.Is(err, unix.ETIMEDOUT):
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	case errors.Is(err, unix.EHOSTUNREACH), errors.Is(err, unix.ENETUNREACH):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
}
