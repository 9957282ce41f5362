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

// Command relayd runs the pull relay, the pass-through relay, or both, until
// SIGINT or SIGTERM. SIGHUP reloads the host list and SIGUSR1 dumps the
// active sessions to the log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/sockmux/pkg/config"
	"github.com/carverauto/sockmux/pkg/config/kvnats"
	"github.com/carverauto/sockmux/pkg/engine"
	"github.com/carverauto/sockmux/pkg/lifecycle"
	"github.com/carverauto/sockmux/pkg/logger"
	"github.com/carverauto/sockmux/pkg/natsutil"
	"github.com/carverauto/sockmux/pkg/relay"
	"github.com/carverauto/sockmux/pkg/version"
)

var errNothingToRun = errors.New("config enables neither pull nor proxy")

const defaultBucket = "sockmux"

type relaydConfig struct {
	Pull    *relay.PullConfig  `json:"pull,omitempty"`
	Proxy   *relay.ProxyConfig `json:"proxy,omitempty"`
	Logging *logger.Config     `json:"logging,omitempty"`
}

func (c *relaydConfig) Validate() error {
	if c.Pull == nil && c.Proxy == nil {
		return errNothingToRun
	}

	if c.Pull != nil {
		if err := c.Pull.Validate(); err != nil {
			return fmt.Errorf("pull: %w", err)
		}
	}

	if c.Proxy != nil {
		if err := c.Proxy.Validate(); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/sockmux/relayd.json", "Path to relayd config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())

		return nil
	}

	ctx := context.Background()

	// CONFIG_SOURCE=kv reads both the config and the host list from NATS.
	kvStore, err := kvStoreFromEnv(ctx)
	if err != nil {
		return err
	}

	if kvStore != nil {
		defer func() { _ = kvStore.Close() }()
	}

	cfgLoader := config.NewConfig(nil)
	if kvStore != nil {
		cfgLoader.SetKVStore(kvStore)
	}

	var cfg relaydConfig
	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{Level: "info", Output: "stdout"}
	}

	relayLogger, err := lifecycle.CreateComponentLogger(ctx, "relayd", logConfig)
	if err != nil {
		return err
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shutdown logger: %v", err)
		}
	}()

	opts, err := relayOptions(ctx, logConfig)
	if err != nil {
		return err
	}

	var runners []func(context.Context, <-chan lifecycle.Control) error

	if cfg.Pull != nil {
		hosts, err := hostSource(kvStore, cfg.Pull.HostsFile)
		if err != nil {
			return err
		}

		pull, err := relay.NewPullRelay(*cfg.Pull, hosts, relayLogger, opts...)
		if err != nil {
			return err
		}

		runners = append(runners, pull.Run)
	}

	if cfg.Proxy != nil {
		proxy, err := relay.NewProxy(*cfg.Proxy, relayLogger, opts...)
		if err != nil {
			return err
		}

		if _, err := proxy.Listen(); err != nil {
			return err
		}

		runners = append(runners, proxy.Run)
	}

	relayLogger.Info().Str("version", version.GetFullVersion()).Int("relays", len(runners)).Msg("relayd starting")

	g, gctx := errgroup.WithContext(ctx)
	controls := lifecycle.Controls(gctx, len(runners))

	for i, runRelay := range runners {
		ch := controls[i]

		g.Go(func() error { return runRelay(gctx, ch) })
	}

	return g.Wait()
}

func kvStoreFromEnv(ctx context.Context) (*kvnats.Client, error) {
	if !strings.EqualFold(os.Getenv("CONFIG_SOURCE"), "kv") {
		return nil, nil
	}

	url := os.Getenv("SOCKMUX_KV_URL")
	if url == "" {
		return nil, nil
	}

	bucket := os.Getenv("SOCKMUX_KV_BUCKET")
	if bucket == "" {
		bucket = defaultBucket
	}

	var opts []nats.Option

	if seedFile := os.Getenv("SOCKMUX_KV_NKEY_SEED"); seedFile != "" {
		opt, err := natsutil.NKeyOption(seedFile)
		if err != nil {
			return nil, err
		}

		opts = append(opts, opt)
	}

	return kvnats.Connect(ctx, url, bucket, opts...)
}

func hostSource(kvStore *kvnats.Client, path string) (relay.HostSource, error) {
	if kvStore != nil {
		return relay.NewKVHostSource(kvStore, path)
	}

	return relay.NewFileHostSource(path)
}

func relayOptions(ctx context.Context, logConfig *logger.Config) ([]relay.Option, error) {
	_, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{ServiceName: "sockmux-relayd", OTel: &logConfig.OTel})
	if errors.Is(err, logger.ErrOTelMetricsDisabled) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	metrics, err := engine.NewMetrics()
	if err != nil {
		return nil, err
	}

	return []relay.Option{relay.WithMetrics(metrics)}, nil
}
