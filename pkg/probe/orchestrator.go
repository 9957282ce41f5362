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

// Package probe runs bounded fan-out TCP connectivity tests over a sliding
// window of targets, optionally grabbing one banner read per service.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/carverauto/sockmux/pkg/engine"
	"github.com/carverauto/sockmux/pkg/logger"
	"github.com/carverauto/sockmux/pkg/models"
)

const tracerName = "github.com/carverauto/sockmux/pkg/probe"

// Sink receives every terminal result as soon as it is known.
type Sink interface {
	Record(result models.ProbeResult)
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithWaiter replaces the poll(2) readiness waiter.
func WithWaiter(w engine.Waiter) Option {
	return func(o *Orchestrator) { o.waiter = w }
}

// WithClock replaces the system clock.
func WithClock(c engine.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithMetrics records engine metrics.
func WithMetrics(m *engine.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSink streams results to s while the pass runs.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// Orchestrator probes target lists. One Orchestrator runs one pass at a
// time; each pass is single-threaded.
type Orchestrator struct {
	cfg     Config
	log     logger.Logger
	waiter  engine.Waiter
	clock   engine.Clock
	metrics *engine.Metrics
	sink    Sink
	open    func(netip.AddrPort, *engine.Budget) (*engine.Slot, error)

	peakOpen int
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config, log logger.Logger, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:   cfg,
		log:   log,
		clock: engine.SystemClock(),
		open:  engine.Open,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.waiter == nil {
		o.waiter = engine.NewPollWaiter()
	}

	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// PeakOpen returns the highest number of simultaneously open sockets seen
// during the last pass.
func (o *Orchestrator) PeakOpen() int { return o.peakOpen }

// Run probes targets and returns exactly one result per target, indexed
// like the input. If ctx is canceled or the readiness wait fails, targets
// that had not finished carry that error and it is also returned.
func (o *Orchestrator) Run(ctx context.Context, targets []models.Target) ([]models.ProbeResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "probe.Run")
	defer span.End()

	runID := uuid.New().String()

	span.SetAttributes(
		attribute.String("probe.run_id", runID),
		attribute.Int("probe.targets", len(targets)),
		attribute.Int("probe.concurrency", o.cfg.Concurrency),
	)

	r := &run{
		o:       o,
		ctx:     ctx,
		log:     o.log.With().Str("component", "probe").Str("run_id", runID).Logger(),
		targets: targets,
		results: make([]models.ProbeResult, len(targets)),
		done:    make([]bool, len(targets)),
		budget:  engine.NewBudget(o.cfg.Concurrency),
		sched:   engine.NewScheduler(o.waiter, o.clock, o.metrics),
		timeout: o.cfg.ConnectTimeout.Std(),
		scratch: make([]byte, o.cfg.MaxBanner),
	}

	if o.cfg.SendInterval > 0 {
		r.limiter = rate.NewLimiter(rate.Every(o.cfg.SendInterval.Std()), 1)
	}

	started := o.clock.Now()

	r.log.Debug().Int("targets", len(targets)).Int("concurrency", o.cfg.Concurrency).
		Dur("timeout", r.timeout).Msg("Starting probe pass")

	err := r.loop()

	o.peakOpen = r.budget.Peak()

	if err != nil {
		span.RecordError(err)
	}

	r.log.Debug().Int("open", r.openCount).Int("peak_sockets", o.peakOpen).
		Dur("elapsed", o.clock.Now().Sub(started)).Msg("Probe pass finished")

	return r.results, err
}

// run is the state of one probe pass.
type run struct {
	o   *Orchestrator
	ctx context.Context
	log zerolog.Logger

	targets []models.Target
	results []models.ProbeResult
	done    []bool

	budget   *engine.Budget
	pool     engine.Pool[*probeSlot]
	sched    *engine.Scheduler
	limiter  *rate.Limiter
	handlers []engine.Handler
	scratch  []byte
	timeout  time.Duration

	windowStart int
	windowEnd   int

	// lastActivity starts the round: the connect timeout only fires after
	// a full timeout with no readiness event and no admission.
	lastActivity time.Time

	socketFailures   int
	exhaustionLogged bool
	openCount        int
}

func (r *run) loop() error {
	now := r.o.clock.Now()
	r.lastActivity = now

	for {
		if err := r.ctx.Err(); err != nil {
			r.abort(now, err)

			return err
		}

		delay := r.fill(now)
		r.advance()

		if r.windowStart == len(r.targets) {
			return nil
		}

		out, err := r.sched.RunOnce(r.ctx, r.liveHandlers(), r.nextTimeout(now, delay))
		now = out.Now

		if err != nil {
			r.log.Error().Err(err).Int("active", r.pool.Len()).Msg("Readiness wait failed, stopping probe pass")
			r.abort(now, err)

			return err
		}

		if out.Interrupted {
			continue
		}

		if out.Ready > 0 {
			r.lastActivity = now
		}

		r.expire(now)
		r.pool.Sweep(func(ps *probeSlot) bool { return ps.slot.IsOpen() })
	}
}

// fill admits targets in input order while fewer than Concurrency sockets
// are live. It returns how long to wait before trying again when admission
// is throttled, or zero.
func (r *run) fill(now time.Time) time.Duration {
	for r.windowEnd < len(r.targets) && r.pool.Len() < r.o.cfg.Concurrency {
		if r.limiter != nil {
			res := r.limiter.ReserveN(now, 1)
			if d := res.DelayFrom(now); d > 0 {
				res.CancelAt(now)

				return d
			}
		}

		idx := r.windowEnd
		target := r.targets[idx]

		if err := validateTarget(target); err != nil {
			r.windowEnd++
			r.complete(models.ProbeResult{Target: target, Index: idx, Err: err, Finished: now})

			continue
		}

		slot, err := r.o.open(target.AddrPort(), r.budget)
		if err != nil {
			if !engine.IsResourceExhausted(err) {
				r.windowEnd++
				r.complete(models.ProbeResult{Target: target, Index: idx, Err: err, Finished: now})

				continue
			}

			delay, retry := r.exhausted(idx, now, err)
			if retry {
				continue
			}

			return delay
		}

		r.socketFailures = 0
		r.windowEnd++

		ps := &probeSlot{run: r, index: idx, target: target, slot: slot}

		if err := slot.BeginConnect(now, engine.StateConnecting); err != nil {
			ps.finish(now, err)

			continue
		}

		r.pool.Add(ps)
		r.lastActivity = now
	}

	return 0
}

// exhausted handles a socket the OS refused to create. With sockets in
// flight the window simply stays short. With none, the pass retries after
// RetryDelay and eventually fails the head target so it always terminates.
func (r *run) exhausted(idx int, now time.Time, err error) (time.Duration, bool) {
	if !r.exhaustionLogged {
		r.exhaustionLogged = true

		r.log.Warn().Err(err).Int("concurrency", r.o.cfg.Concurrency).Int("active", r.pool.Len()).
			Msg("Cannot create socket; consider lowering the concurrency")
	}

	if r.pool.Len() > 0 {
		return 0, false
	}

	r.socketFailures++

	if r.socketFailures < r.o.cfg.MaxSocketRetries {
		return r.o.cfg.RetryDelay.Std(), false
	}

	r.socketFailures = 0
	r.windowEnd++
	r.complete(models.ProbeResult{Target: r.targets[idx], Index: idx, Err: err, Finished: now})

	return 0, true
}

func (r *run) advance() {
	for r.windowStart < r.windowEnd && r.done[r.windowStart] {
		r.windowStart++
	}
}

func (r *run) liveHandlers() []engine.Handler {
	r.handlers = r.handlers[:0]

	for _, ps := range r.pool.Items() {
		r.handlers = append(r.handlers, ps)
	}

	return r.handlers
}

// nextTimeout is the earliest of the round timeout, any later-phase
// deadline and the admission delay.
func (r *run) nextTimeout(now time.Time, admitDelay time.Duration) time.Duration {
	timeout := time.Duration(-1)

	consider := func(d time.Duration) {
		if d < 0 {
			d = 0
		}

		if timeout < 0 || d < timeout {
			timeout = d
		}
	}

	for _, ps := range r.pool.Items() {
		switch ps.slot.State {
		case engine.StateConnecting:
			consider(r.lastActivity.Add(r.timeout).Sub(now))
		case engine.StateWritePending, engine.StateReadPending:
			consider(ps.slot.Deadline.Sub(now))
		default:
		}
	}

	if admitDelay > 0 {
		consider(admitDelay)
	}

	if timeout < 0 {
		timeout = r.timeout
	}

	return timeout
}

// expire times out every connecting socket once the round has gone a full
// connect timeout without activity, and any later-phase socket whose own
// deadline passed.
func (r *run) expire(now time.Time) {
	roundExpired := !now.Before(r.lastActivity.Add(r.timeout))

	for _, ps := range r.pool.Items() {
		if !ps.slot.IsOpen() {
			continue
		}

		switch ps.slot.State {
		case engine.StateConnecting:
			if roundExpired {
				ps.finish(now, fmt.Errorf("%w: no answer within %s", engine.ErrTimedOut, r.timeout))
			}
		case engine.StateWritePending, engine.StateReadPending:
			if ps.slot.Expired(now) {
				r.log.Debug().Str("target", ps.target.String()).Str("state", ps.slot.State.String()).
					Msg("Giving up on banner")
				ps.finish(now, nil)
			}
		default:
		}
	}
}

// abort finishes everything still outstanding with err. Targets that
// already connected keep their open status.
func (r *run) abort(now time.Time, err error) {
	for _, ps := range r.pool.Items() {
		switch {
		case !ps.slot.IsOpen():
		case ps.open:
			ps.finish(now, nil)
		default:
			ps.finish(now, err)
		}
	}

	r.pool.Sweep(func(*probeSlot) bool { return false })

	for ; r.windowEnd < len(r.targets); r.windowEnd++ {
		r.complete(models.ProbeResult{Target: r.targets[r.windowEnd], Index: r.windowEnd, Err: err, Finished: now})
	}

	r.advance()
}

func (r *run) complete(res models.ProbeResult) {
	r.results[res.Index] = res
	r.done[res.Index] = true

	if res.Open {
		r.openCount++
	}

	r.o.metrics.RecordOutcome(r.ctx, "probe", res.Err)

	if r.o.sink != nil {
		r.o.sink.Record(res)
	}

	switch {
	case res.Err == nil:
		r.log.Trace().Str("target", res.Target.String()).Dur("rtt", res.Duration).
			Int("banner_bytes", len(res.Banner)).Msg("Target is up")
	case engine.IsExpectedDown(res.Err),
		errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
		r.log.Debug().Str("target", res.Target.String()).Err(res.Err).Msg("Target is down")
	case engine.IsResourceExhausted(res.Err), errors.Is(res.Err, engine.ErrWaitFailed):
		r.log.Warn().Str("target", res.Target.String()).Err(res.Err).Msg("Target not tested")
	case errors.Is(res.Err, ErrInvalidAddress), errors.Is(res.Err, ErrInvalidPort):
		r.log.Warn().Str("target", res.Target.String()).Err(res.Err).Msg("Skipping invalid target")
	default:
		r.log.Error().Str("target", res.Target.String()).Err(res.Err).Bool("bug", true).
			Msg("Unexpected socket error")
	}
}

func validateTarget(t models.Target) error {
	if !t.Address.IsValid() {
		return ErrInvalidAddress
	}

	if t.Port <= 0 || t.Port > maxPortNumber {
		return fmt.Errorf("%w: %d", ErrInvalidPort, t.Port)
	}

	return nil
}

// probeSlot drives one target through
// CONNECTING -> WRITE_PENDING -> (READ_PENDING) -> IDLE.
type probeSlot struct {
	run    *run
	index  int
	target models.Target
	slot   *engine.Slot
	open   bool
	banner []byte
}

func (ps *probeSlot) Interest() (int, engine.Interest) {
	switch ps.slot.State {
	case engine.StateConnecting, engine.StateWritePending:
		return ps.slot.FD(), engine.InterestWrite
	case engine.StateReadPending:
		return ps.slot.FD(), engine.InterestRead
	default:
		return -1, engine.InterestNone
	}
}

func (ps *probeSlot) OnWritable(now time.Time) {
	r := ps.run

	if ps.slot.State == engine.StateConnecting {
		if err := ps.slot.ResolveConnect(now); err != nil {
			ps.finish(now, err)

			return
		}

		ps.open = true

		if !ps.target.Silent && len(ps.target.SendOnConnect) > 0 {
			ps.slot.Buf.Append(ps.target.SendOnConnect)
		}

		ps.slot.State = engine.StateWritePending
		ps.slot.Deadline = now.Add(r.timeout)
	}

	done, err := ps.slot.WriteSome()
	if err != nil {
		r.log.Debug().Str("target", ps.target.String()).Err(err).Msg("Write after connect failed")
		ps.finish(now, nil)

		return
	}

	if !done {
		return
	}

	if ps.target.WantBanner && !ps.target.Silent {
		ps.slot.State = engine.StateReadPending
		ps.slot.Deadline = now.Add(r.timeout)

		return
	}

	ps.finish(now, nil)
}

func (ps *probeSlot) OnReadable(now time.Time) {
	r := ps.run

	room := r.o.cfg.MaxBanner - 1 - len(ps.banner)
	if room <= 0 {
		ps.finish(now, nil)

		return
	}

	n, err := ps.slot.ReadOnce(r.scratch[:room])
	if err != nil {
		r.log.Debug().Str("target", ps.target.String()).Err(err).Msg("Banner read failed")
		ps.finish(now, nil)

		return
	}

	ps.banner = append(ps.banner, r.scratch[:n]...)

	if r.o.cfg.DrainBanner && n > 0 && len(ps.banner) < r.o.cfg.MaxBanner-1 {
		return
	}

	ps.finish(now, nil)
}

// finish closes the socket and records the result. A nil err after a
// successful connect means the target is up.
func (ps *probeSlot) finish(now time.Time, err error) {
	if cerr := ps.slot.Close(); cerr != nil {
		ps.run.log.Debug().Err(cerr).Str("target", ps.target.String()).Msg("Close failed")
	}

	ps.slot.State = engine.StateIdle

	res := models.ProbeResult{Target: ps.target, Index: ps.index, Finished: now}

	if err != nil {
		res.Err = err
	} else {
		res.Open = ps.open
		res.Duration = ps.slot.ConnectDuration
		res.Banner = ps.banner
	}

	ps.run.complete(res)
}
