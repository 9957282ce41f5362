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

package relay

import (
	"context"
	"io"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sockmux/pkg/engine"
	"github.com/carverauto/sockmux/pkg/logger"
	"github.com/carverauto/sockmux/pkg/models"
)

type sessionLog struct {
	mu      sync.Mutex
	reports []SessionReport
}

func (l *sessionLog) SessionDone(r SessionReport) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reports = append(l.reports, r)
}

func (l *sessionLog) all() []SessionReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]SessionReport(nil), l.reports...)
}

func proxyConfig(upstream string) ProxyConfig {
	return ProxyConfig{
		Listen:          "127.0.0.1:0",
		Upstream:        upstream,
		ConnectInterval: models.Duration(20 * time.Millisecond),
		Timeout:         models.Duration(2 * time.Second),
		Tick:            models.Duration(20 * time.Millisecond),
	}
}

func startProxy(t *testing.T, cfg ProxyConfig, opts ...Option) (*Proxy, string, context.CancelFunc, <-chan error) {
	t.Helper()

	p, err := NewProxy(cfg, logger.NewTestLogger(), opts...)
	require.NoError(t, err)

	addr, err := p.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- p.Run(ctx, nil) }()

	t.Cleanup(cancel)

	return p, addr.String(), cancel, done
}

// exchange writes req, half-closes and returns everything the proxy
// answers.
func exchange(addr, req string) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", err
	}

	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return "", err
	}

	if _, err := conn.Write([]byte(req)); err != nil {
		return "", err
	}

	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		return "", err
	}

	resp, err := io.ReadAll(conn)

	return string(resp), err
}

func send(t *testing.T, addr, req string) string {
	t.Helper()

	resp, err := exchange(addr, req)
	require.NoError(t, err)

	return resp
}

func sendAsync(addr, req string, out chan<- string) {
	resp, err := exchange(addr, req)
	if err != nil {
		resp = "error: " + err.Error()
	}

	out <- resp
}

func closedPort(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return addr
}

func TestProxyRelaysRequest(t *testing.T) {
	upstream := startDaemon(t, func(req string) string { return "ack:" + req })

	obs := &sessionLog{}
	p, addr, cancel, done := startProxy(t, proxyConfig(upstream.addr()), WithObserver(obs))

	assert.Equal(t, "ack:status host.conn green", send(t, addr, "status host.conn green"))
	assert.Equal(t, []string{"status host.conn green"}, upstream.seen())

	require.Eventually(t, func() bool { return len(obs.all()) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	waitRun(t, done)

	snap := p.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Accepted)
	assert.Equal(t, int64(1), snap.Delivered)
	assert.Equal(t, int64(0), snap.Recovered)
	assert.Equal(t, int64(0), snap.Lost)
	assert.Equal(t, int64(2), snap.PeakOpen)

	report := obs.all()[0]
	require.NoError(t, report.Err)
	assert.Equal(t, len("status host.conn green"), report.Bytes)
}

func TestProxyEmptyResponse(t *testing.T) {
	upstream := startDaemon(t, func(string) string { return "" })

	p, addr, cancel, done := startProxy(t, proxyConfig(upstream.addr()))

	assert.Empty(t, send(t, addr, "data host.trends"))

	cancel()
	waitRun(t, done)

	assert.Equal(t, int64(1), p.Stats().Delivered.Load())
}

func TestProxyRetriesUntilUpstreamAppears(t *testing.T) {
	upAddr := closedPort(t)

	cfg := proxyConfig(upAddr)
	cfg.ConnectInterval = models.Duration(300 * time.Millisecond)

	p, addr, cancel, done := startProxy(t, cfg)

	result := make(chan string, 1)

	go sendAsync(addr, "late", result)

	// The first attempt fails immediately; the next one waits out the
	// retry delay.
	time.Sleep(100 * time.Millisecond)

	ln, err := net.Listen("tcp", upAddr)
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		defer func() { _ = conn.Close() }()

		data, _ := io.ReadAll(conn)
		_, _ = conn.Write(append([]byte("got:"), data...))
	}()

	select {
	case resp := <-result:
		assert.Equal(t, "got:late", resp)
	case <-time.After(5 * time.Second):
		t.Fatal("no response through proxy")
	}

	cancel()
	waitRun(t, done)

	assert.Equal(t, int64(1), p.Stats().Delivered.Load())
	assert.Equal(t, int64(0), p.Stats().Lost.Load())
}

func TestProxyLosesMessageAfterConnectTries(t *testing.T) {
	cfg := proxyConfig(closedPort(t))
	cfg.ConnectTries = 2

	obs := &sessionLog{}
	p, addr, cancel, done := startProxy(t, cfg, WithObserver(obs))

	assert.Empty(t, send(t, addr, "doomed"))

	require.Eventually(t, func() bool { return p.Stats().Lost.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	waitRun(t, done)

	reports := obs.all()
	require.Len(t, reports, 1)
	require.ErrorIs(t, reports[0].Err, ErrMessageLost)
	assert.Equal(t, int64(0), p.Stats().Delivered.Load())
}

func TestProxyRequestTimeout(t *testing.T) {
	upstream := startDaemon(t, func(string) string { return "never" })

	cfg := proxyConfig(upstream.addr())
	cfg.Timeout = models.Duration(100 * time.Millisecond)

	p, addr, cancel, done := startProxy(t, cfg)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// Never half-close: the proxy must give up on the request phase.
	_, err = conn.Write([]byte("partial"))
	require.NoError(t, err)

	resp, _ := io.ReadAll(conn)
	assert.Empty(t, resp)

	require.Eventually(t, func() bool { return p.Stats().TimeoutReqReading.Load() == 1 },
		5*time.Second, 10*time.Millisecond)

	cancel()
	waitRun(t, done)

	assert.Empty(t, upstream.seen())
}

func TestProxyBackpressure(t *testing.T) {
	release := make(chan struct{}, 3)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer func() { _ = c.Close() }()

				data, _ := io.ReadAll(c)

				<-release

				_, _ = c.Write(append([]byte("ok:"), data...))
			}(conn)
		}
	}()

	cfg := proxyConfig(ln.Addr().String())
	cfg.MaxOpenSockets = 1
	cfg.SquelchInterval = models.Duration(50 * time.Millisecond)

	p, addr, cancel, done := startProxy(t, cfg)

	results := make(chan string, 3)

	for _, req := range []string{"a", "b", "c"} {
		go sendAsync(addr, req, results)

		if req == "a" {
			require.Eventually(t, func() bool { return p.Stats().Accepted.Load() == 1 },
				5*time.Second, 5*time.Millisecond)
		}
	}

	// The budget is held by the first client, so the others wait in the
	// backlog.
	require.Never(t, func() bool { return p.Stats().Accepted.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)

	release <- struct{}{}

	assert.Equal(t, "ok:a", <-results)

	require.Eventually(t, func() bool { return p.Stats().Accepted.Load() == 2 }, 5*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return p.Stats().Accepted.Load() > 2 }, 200*time.Millisecond, 10*time.Millisecond)

	release <- struct{}{}
	release <- struct{}{}

	got := []string{<-results, <-results}
	assert.ElementsMatch(t, []string{"ok:b", "ok:c"}, got)

	cancel()
	waitRun(t, done)

	snap := p.Stats().Snapshot()
	assert.Equal(t, int64(3), snap.Accepted)
	assert.Equal(t, int64(3), snap.Delivered)
	assert.Equal(t, int64(2), snap.PeakOpen)
}

func TestProxyConfigValidate(t *testing.T) {
	cfg := ProxyConfig{Upstream: "127.0.0.1"}
	require.ErrorIs(t, cfg.Validate(), ErrListenRequired)

	cfg = ProxyConfig{Listen: "0.0.0.0:1984"}
	require.ErrorIs(t, cfg.Validate(), ErrUpstreamRequired)

	cfg = ProxyConfig{Listen: "0.0.0.0:1984", Upstream: "127.0.0.1", SendTries: -1}
	require.ErrorIs(t, cfg.Validate(), ErrInvalidSetting)

	cfg = ProxyConfig{Listen: "0.0.0.0:1984", Upstream: "[::1]:1985"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "[::1]:1985", cfg.upstream.String())
	assert.Equal(t, DefaultConnectTries, cfg.ConnectTries)
	assert.Equal(t, DefaultSendTries, cfg.SendTries)
	assert.Equal(t, DefaultConnectInterval, cfg.ConnectInterval.Std())
	assert.Equal(t, DefaultProxyTimeout, cfg.Timeout.Std())
	assert.Equal(t, DefaultMaxOpenSockets, cfg.MaxOpenSockets)
}

func writingSession(t *testing.T, p *Proxy) *proxySession {
	t.Helper()

	peer := netip.MustParseAddrPort("127.0.0.1:1")

	client, err := engine.Open(peer, p.budget)
	require.NoError(t, err)

	upstream, err := engine.OpenCounted(peer, p.budget)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_ = upstream.Close()
	})

	s := &proxySession{
		proxy:     p,
		seq:       1,
		client:    client,
		upstream:  upstream,
		state:     engine.StateReqSending,
		request:   []byte("status h1.cpu green\n"),
		sendTries: p.cfg.SendTries,
		retry:     backoff.NewConstantBackOff(p.cfg.ConnectInterval.Std()),
	}

	p.sessions.Add(s)

	return s
}

func TestProxySendFailureWaitsBeforeReconnect(t *testing.T) {
	cfg := proxyConfig("127.0.0.1:1")
	cfg.ConnectInterval = models.Duration(8 * time.Second)
	cfg.SendTries = 2

	p, err := NewProxy(cfg, logger.NewTestLogger())
	require.NoError(t, err)

	s := writingSession(t, p)
	now := time.Now()

	for try := 1; try <= cfg.SendTries; try++ {
		upstream, err := engine.OpenCounted(p.cfg.upstream, p.budget)
		require.NoError(t, err)

		t.Cleanup(func() { _ = upstream.Close() })

		s.upstream, s.state = upstream, engine.StateReqSending

		p.sendFailed(now, s, engine.ErrPeerClosed)

		require.False(t, s.finished, "send try %d", try)
		assert.Equal(t, engine.StateReqReady, s.state)
		assert.Equal(t, now.Add(8*time.Second), s.retryAt)
		assert.Equal(t, cfg.ConnectTries, s.connTries)
		assert.Equal(t, cfg.SendTries-try, s.sendTries)
		assert.Nil(t, s.upstream)

		p.connectDue(now.Add(time.Second))
		assert.Nil(t, s.upstream, "reconnected before the retry interval")
	}

	s.upstream, err = engine.OpenCounted(p.cfg.upstream, p.budget)
	require.NoError(t, err)

	p.sendFailed(now, s, engine.ErrPeerClosed)

	assert.True(t, s.finished)
	assert.Equal(t, int64(1), p.Stats().Lost.Load())
}

func TestProxyCountsRecoveredDelivery(t *testing.T) {
	p, err := NewProxy(proxyConfig("127.0.0.1:1"), logger.NewTestLogger())
	require.NoError(t, err)

	clean := writingSession(t, p)
	p.delivered(clean)

	recovered := writingSession(t, p)
	p.sendFailed(time.Now(), recovered, engine.ErrPeerClosed)
	require.False(t, recovered.finished)
	p.delivered(recovered)

	assert.Equal(t, int64(2), p.Stats().Delivered.Load())
	assert.Equal(t, int64(1), p.Stats().Recovered.Load())
}
