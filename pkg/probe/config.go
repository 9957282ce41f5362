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

package probe

import (
	"time"

	"github.com/carverauto/sockmux/pkg/models"
)

const (
	DefaultConcurrency      = 256
	DefaultConnectTimeout   = 10 * time.Second
	DefaultMaxBanner        = 1024
	DefaultRetryDelay       = 100 * time.Millisecond
	DefaultMaxSocketRetries = 50
)

// Config holds the tunables of one probe pass.
type Config struct {
	// Concurrency is the maximum number of sockets open at once.
	Concurrency int `json:"concurrency"`
	// ConnectTimeout is how long a round may pass without any socket
	// activity before every connecting socket is given up on.
	ConnectTimeout models.Duration `json:"connect_timeout"`
	// SendInterval is the minimum delay between two connect attempts.
	SendInterval models.Duration `json:"send_interval"`
	// MaxBanner bounds the stored banner to MaxBanner-1 bytes.
	MaxBanner int `json:"max_banner"`
	// DrainBanner keeps reading the banner until EOF, MaxBanner or the
	// read deadline instead of stopping after the first read.
	DrainBanner bool `json:"drain_banner"`
	// RetryDelay is the pause after the OS refused to create a socket
	// while nothing else was in flight.
	RetryDelay models.Duration `json:"retry_delay"`
	// MaxSocketRetries is how many consecutive socket failures with an
	// empty window are tolerated before the next target is failed.
	MaxSocketRetries int `json:"max_socket_retries"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return ErrInvalidConcurrency
	}

	if c.ConnectTimeout < 0 || c.SendInterval < 0 || c.RetryDelay < 0 {
		return ErrInvalidTimeout
	}

	if c.MaxBanner < 0 {
		return ErrInvalidBanner
	}

	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = models.Duration(DefaultConnectTimeout)
	}

	if c.MaxBanner == 0 {
		c.MaxBanner = DefaultMaxBanner
	}

	if c.RetryDelay == 0 {
		c.RetryDelay = models.Duration(DefaultRetryDelay)
	}

	if c.MaxSocketRetries <= 0 {
		c.MaxSocketRetries = DefaultMaxSocketRetries
	}

	return nil
}
