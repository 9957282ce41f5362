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

package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sockmux/pkg/models"
)

func TestEnvConfigLoaderFields(t *testing.T) {
	t.Setenv("RELAY_NAME", "edge")
	t.Setenv("RELAY_TRIES", "5")
	t.Setenv("RELAY_DEBUG", "true")
	t.Setenv("RELAY_TICK", "250ms")
	t.Setenv("RELAY_HOSTS", "a, b ,c")
	t.Setenv("RELAY_PROXY_UPSTREAM", "10.0.0.1:1984")
	t.Setenv("RELAY_PROXY_TIMEOUT", "15s")
	t.Setenv("RELAY_LABELS", `{"x":1}`)
	t.Setenv("RELAY_WINDOW", "2m")

	var cfg testConfig

	require.NoError(t, NewEnvConfigLoader(nil, "RELAY_").Load(context.Background(), "", &cfg))

	assert.Equal(t, "edge", cfg.Name)
	assert.Equal(t, 5, cfg.Tries)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 250*time.Millisecond, cfg.Tick)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Hosts)
	assert.Equal(t, "10.0.0.1:1984", cfg.Proxy.Upstream)
	assert.Equal(t, models.Duration(15*time.Second), cfg.Proxy.Timeout)
	assert.Equal(t, map[string]int{"x": 1}, cfg.Labels)
	assert.Equal(t, models.Duration(2*time.Minute), cfg.Window)
	assert.Nil(t, cfg.Pull, "unset optional section stays nil")
}

func TestEnvConfigLoaderOptionalSection(t *testing.T) {
	t.Setenv("RELAY_PULL_UPSTREAM", "10.0.0.9:1984")

	var cfg testConfig

	require.NoError(t, NewEnvConfigLoader(nil, "RELAY_").Load(context.Background(), "", &cfg))
	require.NotNil(t, cfg.Pull)
	assert.Equal(t, "10.0.0.9:1984", cfg.Pull.Upstream)
}

func TestEnvConfigLoaderJSON(t *testing.T) {
	t.Setenv("RELAY_CONFIG_JSON", `{"name":"json","proxy":{"upstream":"u"}}`)
	t.Setenv("RELAY_NAME", "ignored")

	var cfg testConfig

	require.NoError(t, NewEnvConfigLoader(nil, "RELAY_").Load(context.Background(), "", &cfg))
	assert.Equal(t, "json", cfg.Name)
}

func TestEnvConfigLoaderErrors(t *testing.T) {
	loader := NewEnvConfigLoader(nil, "RELAY_")

	var cfg testConfig

	require.ErrorIs(t, loader.Load(context.Background(), "", cfg), ErrDstMustBeNonNilPointer)

	name := "x"
	require.ErrorIs(t, loader.Load(context.Background(), "", &name), ErrDstMustBePointerToStruct)

	t.Setenv("RELAY_TRIES", "many")
	require.ErrorContains(t, loader.Load(context.Background(), "", &cfg), "RELAY_TRIES")

	t.Setenv("RELAY_TRIES", "1")
	t.Setenv("RELAY_TICK", "soon")
	require.ErrorContains(t, loader.Load(context.Background(), "", &cfg), "invalid duration")
}
