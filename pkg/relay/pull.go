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
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carverauto/sockmux/pkg/engine"
	"github.com/carverauto/sockmux/pkg/lifecycle"
	"github.com/carverauto/sockmux/pkg/logger"
	"github.com/carverauto/sockmux/pkg/models"
)

const (
	// cacheCycle is how often a client daemon refreshes its own report.
	cacheCycle = 300 * time.Second
	// cacheSlack is added to the next expected refresh so the poll lands
	// just after it.
	cacheSlack = 10 * time.Second
)

var (
	prefixClient = []byte("client ")
	prefixStatus = []byte("status")
	prefixData   = []byte("data")
)

// ClientRecord is one polled client daemon.
type ClientRecord struct {
	Hostname string
	Address  netip.AddrPort

	NextPoll time.Time
	// SuggestedPoll is derived from the age of the client's last report.
	// Zero means no suggestion.
	SuggestedPoll time.Time
	// CachedConfig is the server's answer to the client's last "client"
	// message, sent along with every poll.
	CachedConfig []byte
	Busy         bool

	nextErrorLog time.Time
	listed       bool
}

type outgoing struct {
	client    *ClientRecord
	data      []byte
	cacheable bool
}

// PullRelay polls client daemons and forwards their queued messages to
// the server. Run owns all state; only Stats may be used concurrently.
type PullRelay struct {
	cfg   PullConfig
	log   logger.Logger
	hosts HostSource
	opts  options
	id    string

	clients map[string]*ClientRecord
	order   []*ClientRecord

	ctx        context.Context
	zlog       zerolog.Logger
	budget     *engine.Budget
	sessions   engine.Pool[*pullSession]
	handlers   []engine.Handler
	outbox     []outgoing
	seq        uint64
	nextReload time.Time

	stats PullStats
}

// NewPullRelay validates cfg and returns a relay reading its clients from
// hosts.
func NewPullRelay(cfg PullConfig, hosts HostSource, log logger.Logger, opts ...Option) (*PullRelay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if hosts == nil {
		return nil, ErrHostsFileMissing
	}

	return &PullRelay{
		cfg:     cfg,
		log:     log,
		hosts:   hosts,
		opts:    buildOptions(opts),
		id:      uuid.New().String(),
		clients: make(map[string]*ClientRecord),
		zlog:    log.With().Str("component", "pull-relay").Logger(),
		ctx:     context.Background(),
	}, nil
}

// Stats returns live counters.
func (p *PullRelay) Stats() *PullStats { return &p.stats }

// Client returns a copy of a client record. It must not be called while
// Run is active.
func (p *PullRelay) Client(hostname string) (ClientRecord, bool) {
	c, ok := p.clients[hostname]
	if !ok {
		return ClientRecord{}, false
	}

	return *c, true
}

// Run polls until ctx is done or a stop control arrives. It returns an
// error only when the readiness wait fails.
func (p *PullRelay) Run(ctx context.Context, controls <-chan lifecycle.Control) error {
	p.ctx = ctx
	p.zlog = p.log.With().Str("component", "pull-relay").Str("relay_id", p.id).Logger()
	p.budget = engine.NewBudget(p.cfg.MaxOpenSockets)

	sched := engine.NewScheduler(p.opts.waiter, p.opts.clock, p.opts.metrics)
	now := p.opts.clock.Now()

	p.zlog.Info().Str("server", p.cfg.server.String()).Dur("interval", p.cfg.PollInterval.Std()).
		Msg("Pull relay starting")

	defer p.closeAll()

	for {
		if ctx.Err() != nil {
			p.zlog.Info().Msg("Pull relay stopping")

			return nil
		}

		var stop bool

		controls, stop = p.drainControls(now, controls)
		if stop {
			p.zlog.Info().Msg("Pull relay stopping on request")

			return nil
		}

		if !now.Before(p.nextReload) {
			p.reload(now)
		}

		p.flushOutbox(now)
		p.schedulePolls(now)
		p.sweep()

		out, err := sched.RunOnce(ctx, p.liveHandlers(), p.cfg.Tick.Std())
		if err != nil {
			p.zlog.Error().Err(err).Bool("bug", true).Msg("Readiness wait failed")

			return err
		}

		now = out.Now

		p.expire(now)
		p.sweep()
	}
}

func (p *PullRelay) drainControls(now time.Time, controls <-chan lifecycle.Control) (<-chan lifecycle.Control, bool) {
	for {
		select {
		case ctrl, ok := <-controls:
			if !ok {
				return nil, false
			}

			switch ctrl {
			case lifecycle.ControlReload:
				p.nextReload = time.Time{}
			case lifecycle.ControlDump:
				p.dump(now)
			case lifecycle.ControlStop:
				return controls, true
			}
		default:
			return controls, false
		}
	}
}

// reload refreshes the client table. Clients dropped from the host list
// are forgotten once idle; new ones are due immediately.
func (p *PullRelay) reload(now time.Time) {
	p.nextReload = now.Add(p.cfg.ReloadInterval.Std())

	hosts, err := p.hosts.Hosts(p.ctx)
	if err != nil {
		p.zlog.Warn().Err(err).Msg("Failed to load host list, keeping current clients")

		return
	}

	for _, c := range p.order {
		c.listed = false
	}

	added := 0

	for _, h := range hosts {
		if h.Hostname == "" {
			continue
		}

		port := h.Port
		if port == 0 {
			port = p.cfg.DefaultPort
		}

		addr, err := ParseAddrPort(h.Address, port)
		if err != nil {
			p.zlog.Debug().Err(err).Str("client", h.Hostname).Msg("Skipping host without a usable address")

			continue
		}

		c, ok := p.clients[h.Hostname]
		if !ok {
			c = &ClientRecord{Hostname: h.Hostname, NextPoll: now}
			p.clients[h.Hostname] = c
			p.order = append(p.order, c)
			added++
		}

		c.Address = addr
		c.listed = true
	}

	kept := p.order[:0]

	for _, c := range p.order {
		if c.listed || c.Busy {
			kept = append(kept, c)

			continue
		}

		delete(p.clients, c.Hostname)
	}

	clear(p.order[len(kept):])
	p.order = kept

	sort.Slice(p.order, func(i, j int) bool { return p.order[i].Hostname < p.order[j].Hostname })

	p.zlog.Info().Int("clients", len(p.order)).Int("added", added).Msg("Host list loaded")
}

func (p *PullRelay) schedulePolls(now time.Time) {
	for _, c := range p.order {
		if c.Busy || !c.listed || c.NextPoll.After(now) {
			continue
		}

		if p.budget.Full() {
			return
		}

		req := fmt.Appendf(nil, "pullclient %d\n", p.cfg.ServerID)
		req = append(req, c.CachedConfig...)

		if err := p.start(now, models.RoleClient, c, c.Address, req, false); err != nil {
			p.stats.PollFailures.Add(1)
			p.logSessionError(now, c, models.RoleClient, err)
			p.setPollTime(now, c)

			continue
		}

		c.Busy = true
	}
}

// flushOutbox forwards queued messages while the socket budget allows.
// The rest wait for the next iteration, ahead of new client polls.
func (p *PullRelay) flushOutbox(now time.Time) {
	sent := 0

	for _, msg := range p.outbox {
		if p.budget.Full() {
			break
		}

		sent++

		if err := p.start(now, models.RoleServer, msg.client, p.cfg.server, msg.data, msg.cacheable); err != nil {
			p.stats.ForwardErrors.Add(1)
			p.logSessionError(now, msg.client, models.RoleServer, err)
		}
	}

	if sent == 0 {
		return
	}

	n := copy(p.outbox, p.outbox[sent:])
	clear(p.outbox[n:])
	p.outbox = p.outbox[:n]
}

// start opens a session. Client polls and server forwards share the
// socket budget.
func (p *PullRelay) start(now time.Time, role models.PeerRole, client *ClientRecord,
	peer netip.AddrPort, payload []byte, cacheable bool) error {
	slot, err := engine.Open(peer, p.budget)
	if err != nil {
		return err
	}

	slot.Buf.Append(payload)

	if err := slot.BeginConnect(now, engine.StateReqConnecting); err != nil {
		_ = slot.Close()

		return err
	}

	slot.Deadline = now.Add(p.cfg.SessionTimeout.Std())
	p.seq++

	s := &pullSession{
		relay:     p,
		seq:       p.seq,
		role:      role,
		client:    client,
		slot:      slot,
		started:   now,
		cacheable: cacheable,
	}

	p.sessions.Add(s)

	p.zlog.Debug().Uint64("seq", s.seq).Stringer("role", role).Str("client", client.Hostname).
		Stringer("peer", peer).Int("bytes", len(payload)).Msg("Session queued")

	return nil
}

func (p *PullRelay) liveHandlers() []engine.Handler {
	p.handlers = p.handlers[:0]

	for _, s := range p.sessions.Items() {
		p.handlers = append(p.handlers, s)
	}

	return p.handlers
}

func (p *PullRelay) sweep() {
	p.sessions.Sweep(func(s *pullSession) bool { return !s.finished })
}

func (p *PullRelay) expire(now time.Time) {
	for _, s := range p.sessions.Items() {
		if s.finished || !s.slot.Expired(now) {
			continue
		}

		p.stats.Timeouts.Add(1)
		p.finish(now, s, fmt.Errorf("%w: %s session in state %s after %s",
			engine.ErrTimedOut, s.role, s.slot.State, now.Sub(s.started)))
	}
}

// finish closes a session and applies its result to the client table.
func (p *PullRelay) finish(now time.Time, s *pullSession, err error) {
	s.finished = true
	resp := s.slot.Buf.Detach()
	bytesRead := s.slot.BytesRead
	_ = s.slot.Close()

	if err != nil {
		s.slot.State = engine.StateCleanup
	} else {
		s.slot.State = engine.StateRespDone
	}

	switch s.role {
	case models.RoleClient:
		if err == nil {
			p.stats.Polls.Add(1)
			p.handleBatch(now, s.client, resp)
		} else {
			p.stats.PollFailures.Add(1)
			p.logSessionError(now, s.client, s.role, err)
		}

		s.client.Busy = false
		p.setPollTime(now, s.client)
	case models.RoleServer:
		if err == nil {
			p.stats.Forwarded.Add(1)

			if s.cacheable {
				s.client.CachedConfig = resp
				p.stats.ConfigsCached.Add(1)
			}
		} else {
			p.stats.ForwardErrors.Add(1)
			p.logSessionError(now, s.client, s.role, err)
		}
	}

	p.opts.metrics.RecordOutcome(p.ctx, "pull_"+s.role.String(), err)

	if p.opts.observer != nil {
		p.opts.observer.SessionDone(SessionReport{
			Seq:      s.seq,
			Role:     s.role,
			Peer:     s.slot.Peer().String(),
			Client:   s.client.Hostname,
			Bytes:    bytesRead,
			Duration: now.Sub(s.started),
			Err:      err,
		})
	}
}

// handleBatch splits a poll response and queues each message for the
// server. A corrupt header drops the whole batch.
func (p *PullRelay) handleBatch(now time.Time, c *ClientRecord, resp []byte) {
	msgs, err := ParseBatch(resp)
	if err != nil {
		p.stats.CorruptBatches.Add(1)
		p.zlog.Warn().Err(err).Str("client", c.Hostname).Int("bytes", len(resp)).
			Msg("Dropping corrupt batch, data may have been tampered with")

		return
	}

	if len(msgs) == 0 {
		return
	}

	sender := c.Address.Addr().String()

	for _, m := range msgs {
		data := m.Data
		cacheable := false

		switch {
		case bytes.HasPrefix(data, prefixClient):
			c.SuggestedPoll = now.Add(-(m.Age % cacheCycle)).Add(cacheCycle + cacheSlack)
			data = fmt.Appendf(data, "[msgcache]\nCachedelay: %d\n[proxy]\nClientIP:%s",
				int64(m.Age/time.Second), sender)
			cacheable = true
		case bytes.HasPrefix(data, prefixStatus), bytes.HasPrefix(data, prefixData):
			data = fmt.Appendf(data, "\nStatus message received from %s\n", sender)
		}

		p.outbox = append(p.outbox, outgoing{client: c, data: data, cacheable: cacheable})
	}

	p.zlog.Debug().Str("client", c.Hostname).Int("messages", len(msgs)).Msg("Batch queued for server")
}

// setPollTime picks the next poll: the suggested time when it falls
// inside the next interval, otherwise a jittered interval from now.
func (p *PullRelay) setPollTime(now time.Time, c *ClientRecord) {
	interval := p.cfg.PollInterval.Std()

	if !c.SuggestedPoll.IsZero() && c.SuggestedPoll.After(now) && c.SuggestedPoll.Before(now.Add(interval)) {
		c.NextPoll = c.SuggestedPoll
		c.SuggestedPoll = time.Time{}

		return
	}

	c.NextPoll = now.Add(interval + p.jitter())
}

func (p *PullRelay) jitter() time.Duration {
	span := int64(p.cfg.PollJitter)
	if span <= 0 {
		return 0
	}

	return time.Duration(p.opts.rng.Int64N(2*span+1) - span)
}

// logSessionError logs at most once per ErrorLogInterval per client.
// Expected-down failures only show up at debug level.
func (p *PullRelay) logSessionError(now time.Time, c *ClientRecord, role models.PeerRole, err error) {
	var ev *zerolog.Event

	switch {
	case errors.Is(err, engine.ErrUnexpected):
		ev = p.zlog.Error().Bool("bug", true)
	case engine.IsExpectedDown(err) || now.Before(c.nextErrorLog):
		ev = p.zlog.Debug()
	default:
		ev = p.zlog.Warn()
		c.nextErrorLog = now.Add(p.cfg.ErrorLogInterval.Std())
	}

	if engine.IsResourceExhausted(err) {
		ev = ev.Int("max_open_sockets", p.cfg.MaxOpenSockets)
	}

	ev.Err(err).Str("client", c.Hostname).Stringer("role", role).Msg("Relay session failed")
}

func (p *PullRelay) dump(now time.Time) {
	p.zlog.Info().Int("clients", len(p.order)).Int("sessions", p.sessions.Len()).
		Int("open_sockets", p.budget.InUse()).Msg("Session dump")

	for _, s := range p.sessions.Items() {
		if s.finished {
			continue
		}

		p.zlog.Info().Uint64("seq", s.seq).Stringer("role", s.role).Stringer("state", s.slot.State).
			Str("client", s.client.Hostname).Stringer("peer", s.slot.Peer()).
			Dur("age", now.Sub(s.started)).Msg("Active session")
	}
}

func (p *PullRelay) closeAll() {
	for _, s := range p.sessions.Items() {
		if s.finished {
			continue
		}

		s.finished = true
		_ = s.slot.Close()

		if s.role == models.RoleClient {
			s.client.Busy = false
		}
	}

	p.sweep()
	p.outbox = p.outbox[:0]
}

// pullSession is one request/response exchange with a client or the
// server: connect, write, half-close, read to EOF.
type pullSession struct {
	relay     *PullRelay
	seq       uint64
	role      models.PeerRole
	client    *ClientRecord
	slot      *engine.Slot
	started   time.Time
	cacheable bool
	finished  bool
}

func (s *pullSession) Interest() (int, engine.Interest) {
	if s.finished {
		return -1, engine.InterestNone
	}

	switch s.slot.State {
	case engine.StateReqConnecting, engine.StateReqSending:
		return s.slot.FD(), engine.InterestWrite
	case engine.StateRespReading:
		return s.slot.FD(), engine.InterestRead
	default:
		return -1, engine.InterestNone
	}
}

func (s *pullSession) OnWritable(now time.Time) {
	if s.slot.ConnectPending() {
		if err := s.slot.ResolveConnect(now); err != nil {
			s.relay.finish(now, s, err)

			return
		}

		s.slot.State = engine.StateReqSending
	}

	done, err := s.slot.WriteSome()
	if err != nil {
		s.relay.finish(now, s, err)

		return
	}

	if !done {
		return
	}

	s.slot.Buf.Reset()
	_ = s.slot.ShutdownWrite()
	s.slot.State = engine.StateRespReading
}

func (s *pullSession) OnReadable(now time.Time) {
	eof, err := s.slot.ReadChunk()
	if err != nil {
		s.relay.finish(now, s, err)

		return
	}

	if eof {
		s.slot.State = engine.StateRespReady
		s.relay.finish(now, s, nil)
	}
}
