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

// Package models holds the data types shared by the probe and relay engines.
package models

import (
	"net/netip"
	"time"
)

// Target is one already-resolved address the prober connects to.
// It is treated as immutable once handed to an orchestrator.
type Target struct {
	Address  netip.Addr
	Port     int
	Protocol string // service tag, e.g. "smtp", "ssh"

	// WantBanner asks the prober to perform one read after connecting.
	WantBanner bool
	// SendOnConnect is written once the connection is established.
	SendOnConnect []byte
	// Silent suppresses both SendOnConnect and the banner read.
	Silent bool
}

// AddrPort returns the socket address of the target.
func (t Target) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(t.Address, uint16(t.Port)) // #nosec G115 - ports are validated on construction
}

func (t Target) String() string {
	return t.AddrPort().String()
}

// ProbeResult is the terminal outcome of probing one Target.
type ProbeResult struct {
	Target Target
	// Index is the position of Target in the input list.
	Index int
	Open  bool
	// Duration is the connect latency; zero unless Open.
	Duration time.Duration
	Banner   []byte
	Err      error
	Finished time.Time
}

// PeerRole identifies which side of a relay a session talks to.
type PeerRole int

const (
	RoleClient PeerRole = iota
	RoleServer
)

func (r PeerRole) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// PullHost is one entry of the host list consumed by the pull relay.
type PullHost struct {
	Hostname string `json:"hostname"`
	Address  string `json:"address"`
	Port     int    `json:"port,omitempty"`
}
