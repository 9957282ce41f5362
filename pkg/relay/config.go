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
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"github.com/carverauto/sockmux/pkg/models"
)

const (
	DefaultPort             = 1984
	DefaultServerID         = 1
	DefaultPollInterval     = 60 * time.Second
	DefaultPollJitter       = 15 * time.Second
	DefaultSessionTimeout   = 60 * time.Second
	DefaultErrorLogInterval = 900 * time.Second
	DefaultReloadInterval   = 600 * time.Second
	DefaultTick             = time.Second

	DefaultMaxOpenSockets  = 256
	DefaultConnectTries    = 3
	DefaultConnectInterval = 8 * time.Second
	DefaultSendTries       = 2
	DefaultProxyTimeout    = 10 * time.Second
	DefaultSquelchInterval = 30 * time.Second
)

// PullConfig tunes the pull relay.
type PullConfig struct {
	// Server is the central server every sub-message is forwarded to.
	Server string `json:"server"`
	// ServerID is sent in each "pullclient" request.
	ServerID int `json:"server_id"`
	// DefaultPort is used for hosts and servers given without a port.
	DefaultPort int `json:"default_port"`
	// HostsFile lists the clients to poll.
	HostsFile string `json:"hosts_file"`

	// Polls run every PollInterval plus a random offset within
	// ±PollJitter. PollJitter defaults to 15s, or a quarter of
	// PollInterval when that is shorter.
	PollInterval     models.Duration `json:"poll_interval"`
	PollJitter       models.Duration `json:"poll_jitter"`
	SessionTimeout   models.Duration `json:"session_timeout"`
	ErrorLogInterval models.Duration `json:"error_log_interval"`
	ReloadInterval   models.Duration `json:"reload_interval"`
	Tick             models.Duration `json:"tick"`
	// MaxOpenSockets bounds how many client polls may be in flight.
	MaxOpenSockets int `json:"max_open_sockets"`

	server netip.AddrPort
}

// Validate checks the configuration and fills in defaults.
func (c *PullConfig) Validate() error {
	if c.Server == "" {
		return ErrServerRequired
	}

	if c.PollJitter < 0 || c.PollInterval < 0 || c.SessionTimeout < 0 ||
		c.ErrorLogInterval < 0 || c.ReloadInterval < 0 || c.Tick < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidSetting)
	}

	if c.MaxOpenSockets < 0 {
		return fmt.Errorf("%w: max_open_sockets must not be negative", ErrInvalidSetting)
	}

	if c.DefaultPort == 0 {
		c.DefaultPort = DefaultPort
	}

	if c.ServerID == 0 {
		c.ServerID = DefaultServerID
	}

	server, err := ParseAddrPort(c.Server, c.DefaultPort)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	c.server = server

	setDefault(&c.PollInterval, DefaultPollInterval)
	setDefault(&c.SessionTimeout, DefaultSessionTimeout)
	setDefault(&c.ErrorLogInterval, DefaultErrorLogInterval)
	setDefault(&c.ReloadInterval, DefaultReloadInterval)
	setDefault(&c.Tick, DefaultTick)

	// Jitter is always on. The default is capped at a quarter of short
	// poll intervals.
	if c.PollJitter == 0 {
		c.PollJitter = models.Duration(min(DefaultPollJitter, c.PollInterval.Std()/4))
	}

	if c.PollJitter >= c.PollInterval {
		return fmt.Errorf("%w: poll_jitter must be smaller than poll_interval", ErrInvalidSetting)
	}

	if c.MaxOpenSockets == 0 {
		c.MaxOpenSockets = DefaultMaxOpenSockets
	}

	return nil
}

// ProxyConfig tunes the pass-through relay.
type ProxyConfig struct {
	Listen   string `json:"listen"`
	Upstream string `json:"upstream"`

	MaxOpenSockets  int             `json:"max_open_sockets"`
	ConnectTries    int             `json:"connect_tries"`
	ConnectInterval models.Duration `json:"connect_interval"`
	SendTries       int             `json:"send_tries"`
	Timeout         models.Duration `json:"timeout"`
	SquelchInterval models.Duration `json:"squelch_interval"`
	Tick            models.Duration `json:"tick"`
	Backlog         int             `json:"backlog"`

	listen   netip.AddrPort
	upstream netip.AddrPort
}

// Validate checks the configuration and fills in defaults.
func (c *ProxyConfig) Validate() error {
	if c.Listen == "" {
		return ErrListenRequired
	}

	if c.Upstream == "" {
		return ErrUpstreamRequired
	}

	if c.MaxOpenSockets < 0 || c.ConnectTries < 0 || c.SendTries < 0 || c.Backlog < 0 {
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidSetting)
	}

	if c.ConnectInterval < 0 || c.Timeout < 0 || c.SquelchInterval < 0 || c.Tick < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidSetting)
	}

	listen, err := ParseAddrPort(c.Listen, DefaultPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	upstream, err := ParseAddrPort(c.Upstream, DefaultPort)
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	c.listen, c.upstream = listen, upstream

	if c.MaxOpenSockets == 0 {
		c.MaxOpenSockets = DefaultMaxOpenSockets
	}

	if c.ConnectTries == 0 {
		c.ConnectTries = DefaultConnectTries
	}

	if c.SendTries == 0 {
		c.SendTries = DefaultSendTries
	}

	setDefault(&c.ConnectInterval, DefaultConnectInterval)
	setDefault(&c.Timeout, DefaultProxyTimeout)
	setDefault(&c.SquelchInterval, DefaultSquelchInterval)
	setDefault(&c.Tick, DefaultTick)

	return nil
}

func setDefault(d *models.Duration, fallback time.Duration) {
	if *d == 0 {
		*d = models.Duration(fallback)
	}
}

// ParseAddrPort parses "ip", "ip:port" or "[v6]:port". Host names are
// not resolved.
func ParseAddrPort(s string, defaultPort int) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	if defaultPort <= 0 || defaultPort > 65535 {
		return netip.AddrPort{}, fmt.Errorf("%w: port %s", ErrInvalidAddress, strconv.Itoa(defaultPort))
	}

	return netip.AddrPortFrom(addr, uint16(defaultPort)), nil // #nosec G115
}
