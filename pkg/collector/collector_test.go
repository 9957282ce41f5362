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
	"net/netip"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sockmux/pkg/logger"
	"github.com/carverauto/sockmux/pkg/models"
)

func result(index int, open bool) models.ProbeResult {
	res := models.ProbeResult{
		Target: models.Target{Address: netip.MustParseAddr("10.0.0.1"), Port: 22 + index, Protocol: "ssh"},
		Index:  index,
		Open:   open,
	}

	if open {
		res.Duration = 1500 * time.Microsecond
		res.Banner = []byte("SSH-2.0-x")
	} else {
		res.Err = errors.New("connection refused")
	}

	return res
}

func TestCollectorOrdering(t *testing.T) {
	c := New()

	c.Record(result(2, true))
	c.Record(result(0, false))
	c.Record(result(1, true))

	completed := c.Completed()
	require.Len(t, completed, 3)
	assert.Equal(t, 2, completed[0].Index)

	ordered := c.Ordered()
	for i, res := range ordered {
		assert.Equal(t, i, res.Index)
	}

	up, down := c.Summary()
	assert.Equal(t, 2, up)
	assert.Equal(t, 1, down)

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestFanout(t *testing.T) {
	a, b := New(), New()

	Fanout{a, nil, b}.Record(result(0, true))

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
}

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	t.Cleanup(srv.Shutdown)

	return srv
}

func TestNATSPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	srv := runNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	msgs := make(chan *nats.Msg, 4)

	s, err := sub.ChanSubscribe("probe.test", msgs)
	require.NoError(t, err)

	defer func() { _ = s.Unsubscribe() }()

	require.NoError(t, sub.Flush())

	pub, err := ConnectNATS(NATSConfig{URL: srv.ClientURL(), Subject: "probe.test"}, logger.NewTestLogger())
	require.NoError(t, err)

	defer func() { _ = pub.Close() }()

	pub.SetRunID("run-1")
	pub.Record(result(0, true))
	pub.Record(result(1, false))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, pub.Flush(ctx))

	var got []resultMessage

	for len(got) < 2 {
		select {
		case msg := <-msgs:
			var rm resultMessage
			require.NoError(t, json.Unmarshal(msg.Data, &rm))

			got = append(got, rm)
		case <-ctx.Done():
			t.Fatal("timed out waiting for published results")
		}
	}

	assert.Equal(t, "run-1", got[0].RunID)
	assert.True(t, got[0].Open)
	assert.InDelta(t, 1.5, got[0].RTTMs, 0.001)
	assert.Equal(t, "SSH-2.0-x", got[0].Banner)
	assert.False(t, got[1].Open)
	assert.Equal(t, "connection refused", got[1].Error)

	published, failed := pub.Stats()
	assert.Equal(t, int64(2), published)
	assert.Equal(t, int64(0), failed)
}

func TestNATSConfigValidate(t *testing.T) {
	cfg := NATSConfig{}
	require.ErrorIs(t, cfg.Validate(), ErrNATSURLRequired)

	cfg = NATSConfig{URL: "nats://127.0.0.1:4222"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultSubject, cfg.Subject)

	_, err := NewNATSPublisher(nil, "", logger.NewTestLogger())
	require.ErrorIs(t, err, ErrSubjectRequired)
}

func TestConnectNATSBadNKeySeed(t *testing.T) {
	_, err := ConnectNATS(NATSConfig{URL: "nats://127.0.0.1:1", NKeySeedFile: t.TempDir() + "/missing.nk"},
		logger.NewTestLogger())
	require.ErrorContains(t, err, "nkey seed")
}
