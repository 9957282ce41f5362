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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sockmux/pkg/models"
)

const hostsDoc = `{"hosts":[{"hostname":"web1","address":"10.0.0.5"},{"hostname":"db1","address":"10.0.0.6","port":1985}]}`

type memoryKV map[string][]byte

func (m memoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m[key]

	return v, ok, nil
}

func (memoryKV) Close() error { return nil }

func TestFileHostSource(t *testing.T) {
	_, err := NewFileHostSource("")
	require.ErrorIs(t, err, ErrHostsFileMissing)

	path := filepath.Join(t.TempDir(), "hosts.json")
	require.NoError(t, os.WriteFile(path, []byte(hostsDoc), 0o600))

	src, err := NewFileHostSource(path)
	require.NoError(t, err)

	hosts, err := src.Hosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.PullHost{
		{Hostname: "web1", Address: "10.0.0.5"},
		{Hostname: "db1", Address: "10.0.0.6", Port: 1985},
	}, hosts)

	require.NoError(t, os.Remove(path))

	_, err = src.Hosts(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestKVHostSource(t *testing.T) {
	_, err := NewKVHostSource(memoryKV{}, "")
	require.ErrorIs(t, err, ErrHostsFileMissing)

	src, err := NewKVHostSource(memoryKV{"config/hosts.json": []byte(hostsDoc)}, "/etc/sockmux/hosts.json")
	require.NoError(t, err)

	hosts, err := src.Hosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "db1", hosts[1].Hostname)

	missing, err := NewKVHostSource(memoryKV{}, "hosts.json")
	require.NoError(t, err)

	_, err = missing.Hosts(context.Background())
	require.Error(t, err)
}
