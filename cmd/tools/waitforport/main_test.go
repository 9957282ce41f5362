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

package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForPortOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer ln.Close()

	target, err := resolve(context.Background(), "127.0.0.1", ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, err)

	err = waitForPort(context.Background(), target, waitOptions{attempts: 2, interval: 10 * time.Millisecond, timeout: time.Second})
	assert.NoError(t, err)
}

func TestWaitForPortGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	target, err := resolve(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)

	var notified uint

	err = waitForPort(context.Background(), target, waitOptions{
		attempts: 3,
		interval: 10 * time.Millisecond,
		timeout:  time.Second,
		notify:   func(uint, error) { notified++ },
	})
	require.ErrorIs(t, err, errPortClosed)
	assert.Equal(t, uint(3), notified)
}
