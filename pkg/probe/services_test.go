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

package probe

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sockmux/pkg/models"
)

func TestLookupService(t *testing.T) {
	tests := []struct {
		name       string
		quit       string
		wantBanner bool
		known      bool
	}{
		{"smtp", "quit\r\n", true, true},
		{"POP-3", "quit\r\n", true, true},
		{"imap4", "ABC123 LOGOUT\r\n", true, true},
		{"ssh2", "", true, true},
		{"rsync", "", true, true},
		{"telnet", "", false, true},
		{"http", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ok := LookupService(tt.name)
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.quit, svc.Quit)
			assert.Equal(t, tt.wantBanner, svc.WantBanner)
		})
	}
}

func TestTargetFor(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")

	target, err := TargetFor(addr, 21, "ftp", false)
	require.NoError(t, err)
	assert.Equal(t, "quit\r\n", string(target.SendOnConnect))
	assert.True(t, target.WantBanner)
	assert.Equal(t, "10.0.0.1:21", target.String())

	_, err = TargetFor(addr, 0, "ftp", false)
	require.ErrorIs(t, err, ErrMissingPort)

	_, err = TargetFor(addr, 70000, "ftp", false)
	require.ErrorIs(t, err, ErrInvalidPort)

	_, err = TargetFor(netip.Addr{}, 21, "ftp", false)
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestFormatResult(t *testing.T) {
	target := models.Target{Address: netip.MustParseAddr("192.168.1.5"), Port: 22}

	tests := []struct {
		name string
		res  models.ProbeResult
		want string
	}{
		{"alive", models.ProbeResult{Target: target, Open: true, Duration: 12 * time.Millisecond}, "192.168.1.5 is alive (12 ms)"},
		{"sub millisecond", models.ProbeResult{Target: target, Open: true, Duration: 450 * time.Microsecond}, "192.168.1.5 is alive (0.45 ms)"},
		{"tiny", models.ProbeResult{Target: target, Open: true, Duration: 30 * time.Microsecond}, "192.168.1.5 is alive (0.03 ms)"},
		{"unreachable", models.ProbeResult{Target: target}, "192.168.1.5 is unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatResult(tt.res))
		})
	}
}
