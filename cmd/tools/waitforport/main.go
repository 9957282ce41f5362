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

// Command wait-for-port blocks until a TCP port accepts connections.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/sockmux/pkg/logger"
	"github.com/carverauto/sockmux/pkg/models"
	"github.com/carverauto/sockmux/pkg/probe"
)

var errPortClosed = errors.New("port not accepting connections")

type waitOptions struct {
	attempts uint
	interval time.Duration
	timeout  time.Duration
	notify   func(attempt uint, err error)
}

func main() {
	var (
		host     = flag.String("host", "", "host to check")
		port     = flag.Int("port", 0, "port to check")
		attempts = flag.Uint("attempts", 30, "number of attempts before failing (0 for infinite)")
		interval = flag.Duration("interval", 2*time.Second, "delay between attempts")
		timeout  = flag.Duration("timeout", 2*time.Second, "per-attempt connect timeout")
		quiet    = flag.Bool("quiet", false, "suppress progress logs")
	)

	flag.Parse()

	if *host == "" || *port <= 0 {
		fmt.Fprintln(os.Stderr, "wait-for-port: both --host and --port must be provided")
		os.Exit(2)
	}

	ctx := context.Background()

	target, err := resolve(ctx, *host, *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wait-for-port: %v\n", err)
		os.Exit(2)
	}

	opts := waitOptions{attempts: *attempts, interval: *interval, timeout: *timeout}
	if !*quiet {
		opts.notify = func(attempt uint, err error) {
			fmt.Fprintf(os.Stderr, "wait-for-port: %s:%d not ready (attempt %d): %v\n", *host, *port, attempt, err)
		}
	}

	if err := waitForPort(ctx, target, opts); err != nil {
		fmt.Fprintf(os.Stderr, "wait-for-port: timed out waiting for %s:%d: %v\n", *host, *port, err)
		os.Exit(1)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "wait-for-port: %s:%d is available\n", *host, *port)
	}
}

func resolve(ctx context.Context, host string, port int) (models.Target, error) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		addrs, lookupErr := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		if lookupErr != nil || len(addrs) == 0 {
			return models.Target{}, fmt.Errorf("cannot resolve %q: %w", host, lookupErr)
		}

		addr = addrs[0].Unmap()
	}

	return probe.TargetFor(addr, port, "", true)
}

// waitForPort probes target once per attempt through the socket engine.
func waitForPort(ctx context.Context, target models.Target, opts waitOptions) error {
	orch, err := probe.New(probe.Config{
		Concurrency:    1,
		ConnectTimeout: models.Duration(opts.timeout),
	}, logger.NewTestLogger())
	if err != nil {
		return err
	}

	var attempt uint

	_, err = backoff.Retry(ctx, func() (bool, error) {
		attempt++

		results, err := orch.Run(ctx, []models.Target{target})
		if err != nil {
			return false, backoff.Permanent(err)
		}

		if !results[0].Open {
			if results[0].Err != nil {
				err = fmt.Errorf("%w: %w", errPortClosed, results[0].Err)
			} else {
				err = errPortClosed
			}

			if opts.notify != nil {
				opts.notify(attempt, err)
			}

			return false, err
		}

		return true, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.interval)),
		backoff.WithMaxTries(opts.attempts),
		backoff.WithMaxElapsedTime(0),
	)

	return err
}
