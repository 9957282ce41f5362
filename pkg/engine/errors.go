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

import "errors"

var (
	// Resource exhaustion. Callers retry on a later tick.
	ErrNoSocket        = errors.New("no socket available")
	ErrBudgetExhausted = errors.New("socket budget exhausted")

	// Expected-down outcomes of monitoring.
	ErrRefused     = errors.New("connection refused")
	ErrUnreachable = errors.New("host unreachable")
	ErrTimedOut    = errors.New("connection timed out")
	ErrPeerClosed  = errors.New("connection lost")

	// "Cannot happen" errno values; logged as engine bugs.
	ErrUnexpected = errors.New("unexpected socket error")

	// Relay framing.
	ErrCorruptBatch = errors.New("corrupt relay batch")

	// Readiness wait.
	ErrInterrupted = errors.New("readiness wait interrupted")
	ErrWaitFailed  = errors.New("readiness wait failed")

	ErrInvalidAddress      = errors.New("invalid socket address")
	ErrUnsupportedPlatform = errors.New("socket engine is not supported on this platform")

	errWouldBlock = errors.New("operation would block")
)

// IsExpectedDown reports whether err is a normal "service down" outcome
// that should only be logged in debug mode.
func IsExpectedDown(err error) bool {
	return errors.Is(err, ErrRefused) ||
		errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrTimedOut) ||
		errors.Is(err, ErrPeerClosed)
}

// IsResourceExhausted reports whether err means the engine ran out of
// sockets and admission should stall rather than fail.
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrNoSocket) || errors.Is(err, ErrBudgetExhausted)
}

// Classify returns a short label for err suitable for metric attributes.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRefused):
		return "refused"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrTimedOut):
		return "timeout"
	case errors.Is(err, ErrPeerClosed):
		return "peer_closed"
	case IsResourceExhausted(err):
		return "resource"
	case errors.Is(err, ErrCorruptBatch):
		return "corrupt"
	default:
		return "unexpected"
	}
}
