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
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carverauto/sockmux/pkg/engine"
	"github.com/carverauto/sockmux/pkg/lifecycle"
	"github.com/carverauto/sockmux/pkg/logger"
	"github.com/carverauto/sockmux/pkg/models"
)

// Proxy accepts connections, forwards each request verbatim to the
// upstream and copies the response back. Run owns all state; only Stats
// may be used concurrently.
type Proxy struct {
	cfg  ProxyConfig
	log  logger.Logger
	opts options
	id   string

	listener *engine.Listener

	ctx         context.Context
	zlog        zerolog.Logger
	budget      *engine.Budget
	sessions    engine.Pool[*proxySession]
	handlers    []engine.Handler
	seq         uint64
	lastSquelch time.Time

	stats ProxyStats
}

// NewProxy validates cfg and returns an unbound proxy.
func NewProxy(cfg ProxyConfig, log logger.Logger, opts ...Option) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Proxy{
		cfg:    cfg,
		log:    log,
		opts:   buildOptions(opts),
		id:     uuid.New().String(),
		ctx:    context.Background(),
		zlog:   log.With().Str("component", "proxy").Logger(),
		budget: engine.NewBudget(cfg.MaxOpenSockets),
	}, nil
}

// Listen binds the listening socket and returns its address. Run calls it
// when the caller has not.
func (p *Proxy) Listen() (netip.AddrPort, error) {
	if p.listener != nil {
		return p.listener.Addr(), nil
	}

	l, err := engine.Listen(p.cfg.listen, p.cfg.Backlog)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("listen on %s: %w", p.cfg.listen, err)
	}

	p.listener = l

	return l.Addr(), nil
}

// Stats returns live counters.
func (p *Proxy) Stats() *ProxyStats { return &p.stats }

// Run relays until ctx is done or a stop control arrives. It returns an
// error only when binding or the readiness wait fails.
func (p *Proxy) Run(ctx context.Context, controls <-chan lifecycle.Control) error {
	addr, err := p.Listen()
	if err != nil {
		return err
	}

	p.ctx = ctx
	p.zlog = p.log.With().Str("component", "proxy").Str("relay_id", p.id).Logger()

	sched := engine.NewScheduler(p.opts.waiter, p.opts.clock, p.opts.metrics)
	now := p.opts.clock.Now()

	p.zlog.Info().Stringer("listen", addr).Stringer("upstream", p.cfg.upstream).
		Int("max_open_sockets", p.cfg.MaxOpenSockets).Msg("Proxy starting")

	defer p.shutdown()

	for {
		if ctx.Err() != nil {
			p.zlog.Info().Msg("Proxy stopping")

			return nil
		}

		var stop bool

		controls, stop = p.drainControls(now, controls)
		if stop {
			p.zlog.Info().Msg("Proxy stopping on request")

			return nil
		}

		p.connectDue(now)
		p.sweep()

		if p.budget.Full() && now.Sub(p.lastSquelch) >= p.cfg.SquelchInterval.Std() {
			p.lastSquelch = now
			p.zlog.Warn().Int("open_sockets", p.budget.InUse()).Int("max_open_sockets", p.cfg.MaxOpenSockets).
				Msg("Too many open sockets, not accepting new connections")
		}

		out, err := sched.RunOnce(ctx, p.liveHandlers(), p.nextTimeout(now))
		if err != nil {
			p.zlog.Error().Err(err).Bool("bug", true).Msg("Readiness wait failed")

			return err
		}

		now = out.Now

		p.expire(now)
		p.sweep()
	}
}

func (p *Proxy) drainControls(now time.Time, controls <-chan lifecycle.Control) (<-chan lifecycle.Control, bool) {
	for {
		select {
		case ctrl, ok := <-controls:
			if !ok {
				return nil, false
			}

			switch ctrl {
			case lifecycle.ControlDump:
				p.dump(now)
			case lifecycle.ControlStop:
				return controls, true
			case lifecycle.ControlReload:
				p.zlog.Debug().Msg("Nothing to reload")
			}
		default:
			return controls, false
		}
	}
}

func (p *Proxy) liveHandlers() []engine.Handler {
	p.handlers = append(p.handlers[:0], proxyListener{p})

	for _, s := range p.sessions.Items() {
		p.handlers = append(p.handlers, s)
	}

	return p.handlers
}

func (p *Proxy) nextTimeout(now time.Time) time.Duration {
	timeout := p.cfg.Tick.Std()

	for _, s := range p.sessions.Items() {
		if s.finished || s.state != engine.StateReqReady {
			continue
		}

		if wait := s.retryAt.Sub(now); wait < timeout {
			timeout = max(wait, 0)
		}
	}

	return timeout
}

func (p *Proxy) sweep() {
	p.sessions.Sweep(func(s *proxySession) bool { return !s.finished })
}

func (p *Proxy) accept(now time.Time) {
	slot, err := p.listener.Accept(p.budget)
	if err != nil {
		ev := p.zlog.Warn()
		if errors.Is(err, engine.ErrUnexpected) {
			ev = p.zlog.Error().Bool("bug", true)
		}

		ev.Err(err).Msg("Accept failed")

		return
	}

	if slot == nil {
		return
	}

	p.seq++
	p.stats.Accepted.Add(1)
	p.stats.observeOpen(p.budget.InUse())

	slot.State = engine.StateReqReading

	s := &proxySession{
		proxy:    p,
		seq:      p.seq,
		client:   slot,
		state:    engine.StateReqReading,
		started:  now,
		deadline: now.Add(p.cfg.Timeout.Std()),
		retry:    backoff.NewConstantBackOff(p.cfg.ConnectInterval.Std()),
	}

	p.sessions.Add(s)

	p.zlog.Debug().Uint64("seq", s.seq).Stringer("peer", slot.Peer()).Msg("Connection accepted")
}

// connectDue starts upstream attempts whose retry delay has passed.
func (p *Proxy) connectDue(now time.Time) {
	for _, s := range p.sessions.Items() {
		if !s.finished && s.state == engine.StateReqReady && !s.retryAt.After(now) {
			p.connect(now, s)
		}
	}
}

func (p *Proxy) connect(now time.Time, s *proxySession) {
	s.connTries--

	slot, err := engine.OpenCounted(p.cfg.upstream, p.budget)
	if err == nil {
		slot.Buf.Append(s.request)

		if err = slot.BeginConnect(now, engine.StateReqConnecting); err != nil {
			_ = slot.Close()
		}
	}

	if err != nil {
		p.connectFailed(now, s, err)

		return
	}

	p.stats.observeOpen(p.budget.InUse())

	s.upstream = slot
	s.state = engine.StateReqConnecting
	s.deadline = now.Add(p.cfg.Timeout.Std())
}

// connectFailed schedules the next attempt after the fixed retry delay, or
// gives the message up once the tries are spent.
func (p *Proxy) connectFailed(now time.Time, s *proxySession, err error) {
	if s.upstream != nil {
		_ = s.upstream.Close()
		s.upstream = nil
	}

	p.zlog.Debug().Err(err).Uint64("seq", s.seq).Int("tries_left", s.connTries).Msg("Upstream connect failed")

	wait := s.retry.NextBackOff()
	if s.connTries <= 0 || wait == backoff.Stop {
		p.lose(now, s, err)

		return
	}

	s.state = engine.StateReqReady
	s.retryAt = now.Add(wait)
	s.deadline = time.Time{}
}

// sendFailed reconnects with a fresh set of connect tries while send
// tries remain. The reconnect waits one retry interval.
func (p *Proxy) sendFailed(now time.Time, s *proxySession, err error) {
	_ = s.upstream.Close()
	s.upstream = nil

	p.zlog.Debug().Err(err).Uint64("seq", s.seq).Int("send_tries_left", s.sendTries).Msg("Upstream write failed")

	if s.sendTries <= 0 {
		p.lose(now, s, err)

		return
	}

	s.sendTries--
	s.connTries = p.cfg.ConnectTries
	s.retry.Reset()

	wait := s.retry.NextBackOff()
	if wait == backoff.Stop {
		p.lose(now, s, err)

		return
	}

	s.state = engine.StateReqReady
	s.retryAt = now.Add(wait)
	s.deadline = time.Time{}
}

func (p *Proxy) lose(now time.Time, s *proxySession, err error) {
	p.stats.Lost.Add(1)
	p.zlog.Warn().Err(err).Uint64("seq", s.seq).Stringer("peer", s.client.Peer()).
		Int("bytes", len(s.request)).Msg("Upstream not responding, message lost")

	p.finish(now, s, fmt.Errorf("%w: %w", ErrMessageLost, err))
}

func (p *Proxy) delivered(s *proxySession) {
	p.stats.Delivered.Add(1)

	if s.sendTries < p.cfg.SendTries {
		p.stats.Recovered.Add(1)
	}
}

func (p *Proxy) expire(now time.Time) {
	for _, s := range p.sessions.Items() {
		if s.finished || s.deadline.IsZero() || now.Before(s.deadline) {
			continue
		}

		p.stats.recordTimeout(s.state)
		p.finish(now, s, fmt.Errorf("%w: %s after %s", engine.ErrTimedOut, s.state, p.cfg.Timeout.Std()))
	}
}

// finish tears down both sides of a session.
func (p *Proxy) finish(now time.Time, s *proxySession, err error) {
	s.finished = true

	if err != nil {
		s.state = engine.StateCleanup
	} else {
		s.state = engine.StateRespDone
	}

	_ = s.client.Shutdown()
	_ = s.client.Close()

	if s.upstream != nil {
		_ = s.upstream.Close()
	}

	if err != nil && !errors.Is(err, ErrMessageLost) {
		ev := p.zlog.Debug()
		if errors.Is(err, engine.ErrUnexpected) {
			ev = p.zlog.Error().Bool("bug", true)
		}

		ev.Err(err).Uint64("seq", s.seq).Stringer("peer", s.client.Peer()).Msg("Proxy session failed")
	}

	p.opts.metrics.RecordOutcome(p.ctx, "proxy", err)

	if p.opts.observer != nil {
		p.opts.observer.SessionDone(SessionReport{
			Seq:      s.seq,
			Role:     models.RoleClient,
			Peer:     s.client.Peer().String(),
			Bytes:    len(s.request),
			Duration: now.Sub(s.started),
			Err:      err,
		})
	}
}

func (p *Proxy) dump(now time.Time) {
	p.zlog.Info().Int("sessions", p.sessions.Len()).Int("open_sockets", p.budget.InUse()).
		Interface("stats", p.stats.Snapshot()).Msg("Session dump")

	for _, s := range p.sessions.Items() {
		if s.finished {
			continue
		}

		p.zlog.Info().Uint64("seq", s.seq).Stringer("state", s.state).Stringer("peer", s.client.Peer()).
			Int("request_bytes", len(s.request)).Dur("age", now.Sub(s.started)).Msg("Active session")
	}
}

func (p *Proxy) shutdown() {
	for _, s := range p.sessions.Items() {
		if s.finished {
			continue
		}

		s.finished = true
		_ = s.client.Close()

		if s.upstream != nil {
			_ = s.upstream.Close()
		}
	}

	p.sweep()

	if p.listener != nil {
		_ = p.listener.Close()
		p.listener = nil
	}
}

// proxyListener leaves the listening socket out of the wait while the
// socket budget is full, so pending clients stay in the backlog.
type proxyListener struct {
	p *Proxy
}

func (l proxyListener) Interest() (int, engine.Interest) {
	if l.p.listener == nil || l.p.budget.Full() {
		return -1, engine.InterestNone
	}

	return l.p.listener.FD(), engine.InterestRead
}

func (l proxyListener) OnReadable(now time.Time) { l.p.accept(now) }

func (proxyListener) OnWritable(time.Time) {}

// proxySession relays one request. Only one of its two sockets is
// waited on at any time.
type proxySession struct {
	proxy    *Proxy
	seq      uint64
	client   *engine.Slot
	upstream *engine.Slot

	state    engine.State
	request  []byte
	started  time.Time
	deadline time.Time

	connTries int
	sendTries int
	retry     backoff.BackOff
	retryAt   time.Time

	finished bool
}

func (s *proxySession) Interest() (int, engine.Interest) {
	if s.finished {
		return -1, engine.InterestNone
	}

	switch s.state {
	case engine.StateReqReading:
		return s.client.FD(), engine.InterestRead
	case engine.StateReqConnecting, engine.StateReqSending:
		return s.upstream.FD(), engine.InterestWrite
	case engine.StateRespReading:
		return s.upstream.FD(), engine.InterestRead
	case engine.StateRespSending:
		return s.client.FD(), engine.InterestWrite
	default:
		return -1, engine.InterestNone
	}
}

func (s *proxySession) OnReadable(now time.Time) {
	p := s.proxy

	switch s.state {
	case engine.StateReqReading:
		eof, err := s.client.ReadChunk()
		if err != nil {
			p.finish(now, s, err)

			return
		}

		if !eof {
			return
		}

		s.request = s.client.Buf.Detach()
		if len(s.request) == 0 {
			p.finish(now, s, nil)

			return
		}

		s.state = engine.StateReqReady
		s.connTries = p.cfg.ConnectTries
		s.sendTries = p.cfg.SendTries
		s.retry.Reset()
		p.connect(now, s)
	case engine.StateRespReading:
		eof, err := s.upstream.ReadChunk()
		if err != nil {
			p.finish(now, s, err)

			return
		}

		if !eof {
			return
		}

		resp := s.upstream.Buf.Detach()
		_ = s.upstream.Close()
		s.upstream = nil

		if len(resp) == 0 {
			p.finish(now, s, nil)

			return
		}

		s.client.Buf.Append(resp)
		s.state = engine.StateRespSending
		s.deadline = now.Add(p.cfg.Timeout.Std())
	default:
	}
}

func (s *proxySession) OnWritable(now time.Time) {
	p := s.proxy

	switch s.state {
	case engine.StateReqConnecting:
		if err := s.upstream.ResolveConnect(now); err != nil {
			p.connectFailed(now, s, err)

			return
		}

		s.state = engine.StateReqSending
		s.deadline = now.Add(p.cfg.Timeout.Std())

		s.send(now)
	case engine.StateReqSending:
		s.send(now)
	case engine.StateRespSending:
		done, err := s.client.WriteSome()
		if err != nil {
			p.finish(now, s, err)

			return
		}

		if done {
			p.finish(now, s, nil)
		}
	default:
	}
}

func (s *proxySession) send(now time.Time) {
	p := s.proxy

	done, err := s.upstream.WriteSome()
	if err != nil {
		p.sendFailed(now, s, err)

		return
	}

	if !done {
		return
	}

	s.upstream.Buf.Reset()
	_ = s.upstream.ShutdownWrite()
	s.state = engine.StateReqDone
	p.delivered(s)

	s.state = engine.StateRespReading
	s.deadline = now.Add(p.cfg.Timeout.Std())
}
