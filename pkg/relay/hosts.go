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

//go:generate mockgen -destination=mock_relay.go -package=relay github.com/carverauto/sockmux/pkg/relay HostSource

import (
	"context"

	"github.com/carverauto/sockmux/pkg/config"
	"github.com/carverauto/sockmux/pkg/models"
)

// HostSource lists the clients the pull relay should poll. It is asked
// again on every reload.
type HostSource interface {
	Hosts(ctx context.Context) ([]models.PullHost, error)
}

// hostsFile is the on-disk layout read by FileHostSource.
type hostsFile struct {
	Hosts []models.PullHost `json:"hosts"`
}

// FileHostSource reads {"hosts": [...]} from a JSON file on every call.
type FileHostSource struct {
	path   string
	loader config.FileConfigLoader
}

// NewFileHostSource returns a source reading path.
func NewFileHostSource(path string) (*FileHostSource, error) {
	if path == "" {
		return nil, ErrHostsFileMissing
	}

	return &FileHostSource{path: path}, nil
}

// Hosts implements HostSource.
func (f *FileHostSource) Hosts(ctx context.Context) ([]models.PullHost, error) {
	var hf hostsFile

	if err := f.loader.Load(ctx, f.path, &hf); err != nil {
		return nil, err
	}

	return hf.Hosts, nil
}

// KVHostSource reads the hosts document from a key-value store, keyed by
// the base name of the hosts file path.
type KVHostSource struct {
	path   string
	loader *config.KVConfigLoader
}

// NewKVHostSource returns a source reading path's entry from store.
func NewKVHostSource(store config.KVStore, path string) (*KVHostSource, error) {
	if path == "" || store == nil {
		return nil, ErrHostsFileMissing
	}

	return &KVHostSource{path: path, loader: config.NewKVConfigLoader(store)}, nil
}

// Hosts implements HostSource.
func (k *KVHostSource) Hosts(ctx context.Context) ([]models.PullHost, error) {
	var hf hostsFile

	if err := k.loader.Load(ctx, k.path, &hf); err != nil {
		return nil, err
	}

	return hf.Hosts, nil
}

// StaticHosts is a fixed host list.
type StaticHosts []models.PullHost

// Hosts implements HostSource.
func (s StaticHosts) Hosts(context.Context) ([]models.PullHost, error) {
	return s, nil
}
