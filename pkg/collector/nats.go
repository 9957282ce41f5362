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

package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/sockmux/pkg/logger"
	"github.com/carverauto/sockmux/pkg/models"
	"github.com/carverauto/sockmux/pkg/natsutil"
)

const (
	DefaultSubject = "sockmux.probe.results"

	reconnectWait = 2 * time.Second
	maxReconnects = 10
)

var (
	ErrNATSURLRequired = errors.New("NATS URL is required")
	ErrSubjectRequired = errors.New("NATS subject is required")
)

// NATSConfig configures the result publisher.
// CredsFile takes precedence over NKeySeedFile when both are set.
type NATSConfig struct {
	URL          string `json:"url"`
	Subject      string `json:"subject"`
	CredsFile    string `json:"creds_file,omitempty"`
	NKeySeedFile string `json:"nkey_seed_file,omitempty"`
	Name         string `json:"name,omitempty"`
}

// Validate checks the configuration and fills in defaults.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return ErrNATSURLRequired
	}

	if c.Subject == "" {
		c.Subject = DefaultSubject
	}

	if c.Name == "" {
		c.Name = "sockmux-probe"
	}

	return nil
}

// resultMessage is the JSON document published per result.
type resultMessage struct {
	RunID    string    `json:"run_id,omitempty"`
	Index    int       `json:"index"`
	Address  string    `json:"address"`
	Port     int       `json:"port"`
	Protocol string    `json:"protocol,omitempty"`
	Open     bool      `json:"open"`
	RTTMs    float64   `json:"rtt_ms,omitempty"`
	Banner   string    `json:"banner,omitempty"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished"`
}

// NATSPublisher publishes each result as JSON on a NATS subject. Publish
// failures are logged and counted but never stop the probe pass.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	runID   string
	log     logger.Logger
	owned   bool

	published atomic.Int64
	failed    atomic.Int64
}

// ConnectNATS dials NATS with the publisher's reconnect policy.
func ConnectNATS(cfg NATSConfig, log logger.Logger) (*NATSPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	switch {
	case cfg.CredsFile != "":
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	case cfg.NKeySeedFile != "":
		nkeyOpt, err := natsutil.NKeyOption(cfg.NKeySeedFile)
		if err != nil {
			return nil, err
		}

		opts = append(opts, nkeyOpt)
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p, err := NewNATSPublisher(nc, cfg.Subject, log)
	if err != nil {
		nc.Close()

		return nil, err
	}

	p.owned = true

	return p, nil
}

// NewNATSPublisher publishes on an existing connection.
func NewNATSPublisher(nc *nats.Conn, subject string, log logger.Logger) (*NATSPublisher, error) {
	if subject == "" {
		return nil, ErrSubjectRequired
	}

	return &NATSPublisher{nc: nc, subject: subject, log: log}, nil
}

// SetRunID tags subsequent messages with a run identifier.
func (p *NATSPublisher) SetRunID(id string) {
	p.runID = id
}

// Record implements Sink.
func (p *NATSPublisher) Record(result models.ProbeResult) {
	msg := resultMessage{
		RunID:    p.runID,
		Index:    result.Index,
		Address:  result.Target.Address.String(),
		Port:     result.Target.Port,
		Protocol: result.Target.Protocol,
		Open:     result.Open,
		Banner:   string(result.Banner),
		Finished: result.Finished,
	}

	if result.Open {
		msg.RTTMs = float64(result.Duration.Microseconds()) / 1000
	}

	if result.Err != nil {
		msg.Error = result.Err.Error()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.failed.Add(1)
		p.log.Error().Err(err).Msg("Failed to encode probe result")

		return
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		p.failed.Add(1)
		p.log.Warn().Err(err).Str("subject", p.subject).Msg("Failed to publish probe result")

		return
	}

	p.published.Add(1)
}

// Flush waits until the server has processed everything published.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}

// Stats returns the number of published and failed messages.
func (p *NATSPublisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close drains the connection if the publisher opened it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}

	return p.nc.Drain()
}
