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

// Command probe connects to every address of the given CIDR blocks and
// prints one fping-style line per address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/sockmux/pkg/collector"
	"github.com/carverauto/sockmux/pkg/config"
	"github.com/carverauto/sockmux/pkg/engine"
	"github.com/carverauto/sockmux/pkg/lifecycle"
	"github.com/carverauto/sockmux/pkg/logger"
	"github.com/carverauto/sockmux/pkg/models"
	"github.com/carverauto/sockmux/pkg/probe"
	"github.com/carverauto/sockmux/pkg/version"
)

var errNoTargets = errors.New("no targets given")

type probeConfig struct {
	Probe   probe.Config          `json:"probe"`
	Targets []string              `json:"targets"`
	Port    int                   `json:"port"`
	Service string                `json:"service"`
	Silent  bool                  `json:"silent"`
	Logging *logger.Config        `json:"logging,omitempty"`
	NATS    *collector.NATSConfig `json:"nats,omitempty"`
}

func (c *probeConfig) Validate() error {
	if err := c.Probe.Validate(); err != nil {
		return err
	}

	if c.NATS != nil {
		return c.NATS.Validate()
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to probe config file")
	port := flag.Int("port", 0, "TCP port to probe (overrides the service port)")
	service := flag.String("service", "", "Service to speak to each target (e.g. smtp, ssh)")
	silent := flag.Bool("silent", false, "Do not send the service's quit string")
	concurrency := flag.Int("concurrency", 0, "Maximum simultaneously open sockets")
	timeout := flag.Duration("timeout", 0, "Give up on connects after this long without progress")
	interval := flag.Duration("interval", 0, "Minimum delay between two connect attempts")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())

		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg probeConfig

	if *configPath != "" {
		if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	applyFlags(&cfg, *port, *service, *silent, *concurrency, *timeout, *interval)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if len(cfg.Targets) == 0 {
		return errNoTargets
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{Level: "info", Output: "stderr"}
	}

	probeLogger, err := lifecycle.CreateComponentLogger(ctx, "probe", logConfig)
	if err != nil {
		return err
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shutdown logger: %v", err)
		}
	}()

	opts, closeSinks, err := buildOptions(ctx, &cfg, logConfig, probeLogger)
	if err != nil {
		return err
	}

	defer closeSinks()

	targets, errs := probe.BuildTargets(cfg.Targets, cfg.Port, cfg.Service, cfg.Silent)
	for _, e := range errs {
		probeLogger.Warn().Err(e).Msg("Skipping target")
	}

	orch, err := probe.New(cfg.Probe, probeLogger, opts.options...)
	if err != nil {
		return err
	}

	results, err := orch.Run(ctx, targets)

	if reportErr := probe.Report(os.Stdout, opts.collector.Ordered()); reportErr != nil {
		return reportErr
	}

	up, down := opts.collector.Summary()
	probeLogger.Info().Int("targets", len(results)).Int("up", up).Int("down", down).
		Int("peak_sockets", orch.PeakOpen()).Msg("Probe pass complete")

	return err
}

func applyFlags(cfg *probeConfig, port int, service string, silent bool, concurrency int, timeout, interval time.Duration) {
	if args := flag.Args(); len(args) > 0 {
		cfg.Targets = args
	}

	if port > 0 {
		cfg.Port = port
	}

	if service != "" {
		cfg.Service = service
	}

	if silent {
		cfg.Silent = true
	}

	if concurrency > 0 {
		cfg.Probe.Concurrency = concurrency
	}

	if timeout > 0 {
		cfg.Probe.ConnectTimeout = models.Duration(timeout)
	}

	if interval > 0 {
		cfg.Probe.SendInterval = models.Duration(interval)
	}
}

type probeOptions struct {
	options   []probe.Option
	collector *collector.Collector
}

// buildOptions wires the result sinks and the OTel pipelines.
func buildOptions(ctx context.Context, cfg *probeConfig, logConfig *logger.Config, log logger.Logger) (probeOptions, func(), error) {
	results := collector.New()
	sinks := collector.Fanout{results}
	closers := []func(){}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.NATS != nil {
		pub, err := collector.ConnectNATS(*cfg.NATS, log)
		if err != nil {
			return probeOptions{}, closeAll, err
		}

		sinks = append(sinks, pub)
		closers = append(closers, func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := pub.Flush(flushCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush NATS publisher")
			}

			_ = pub.Close()
		})
	}

	if _, err := logger.InitializeTracing(ctx, logger.TracingConfig{ServiceName: "sockmux-probe", OTel: &logConfig.OTel}); err != nil {
		return probeOptions{}, closeAll, err
	}

	opts := []probe.Option{probe.WithSink(sinks)}

	if _, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{ServiceName: "sockmux-probe", OTel: &logConfig.OTel}); err == nil {
		metrics, err := engine.NewMetrics()
		if err != nil {
			return probeOptions{}, closeAll, err
		}

		opts = append(opts, probe.WithMetrics(metrics))
	} else if !errors.Is(err, logger.ErrOTelMetricsDisabled) {
		return probeOptions{}, closeAll, err
	}

	return probeOptions{options: opts, collector: results}, closeAll, nil
}
