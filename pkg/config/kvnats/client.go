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

// Package kvnats serves configuration out of a NATS JetStream key-value
// bucket.
package kvnats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/sockmux/pkg/config"
)

// Client is a config.KVStore backed by one JetStream bucket.
type Client struct {
	nc     *nats.Conn
	owned  bool
	kv     jetstream.KeyValue
	bucket string
}

var _ config.KVStore = (*Client)(nil)

// Connect dials url and opens bucket. Close also closes the connection.
func Connect(ctx context.Context, url, bucket string, opts ...nats.Option) (*Client, error) {
	nc, err := nats.Connect(url, append([]nats.Option{nats.Name("sockmux-config")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	c, err := New(ctx, nc, bucket)
	if err != nil {
		nc.Close()

		return nil, err
	}

	c.owned = true

	return c, nil
}

// New opens bucket on an existing connection, creating it when missing.
func New(ctx context.Context, nc *nats.Conn, bucket string) (*Client, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	kvStore, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", bucket, err)
	}

	return &Client{
		nc:     nc,
		kv:     kvStore,
		bucket: bucket,
	}, nil
}

// Get returns the value stored under key. A missing key is not an error.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return entry.Value(), true, nil
}

// Put stores value under key.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.kv.Put(ctx, key, value)

	return err
}

// Close releases the connection if Connect opened it.
func (c *Client) Close() error {
	if c.owned {
		c.nc.Close()
	}

	return nil
}
