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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandCIDR(t *testing.T) {
	tests := []struct {
		name  string
		cidr  string
		count int
		first string
		last  string
	}{
		{"slash 30 skips edges", "192.168.1.0/30", 2, "192.168.1.1", "192.168.1.2"},
		{"slash 24", "10.0.0.17/24", 254, "10.0.0.1", "10.0.0.254"},
		{"slash 32", "10.0.0.5/32", 1, "10.0.0.5", "10.0.0.5"},
		{"slash 31 keeps both", "10.0.0.4/31", 2, "10.0.0.4", "10.0.0.5"},
		{"bare address", "172.16.0.9", 1, "172.16.0.9", "172.16.0.9"},
		{"ipv6", "2001:db8::/126", 4, "2001:db8::", "2001:db8::3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addrs, err := ExpandCIDR(tt.cidr)
			require.NoError(t, err)
			require.Len(t, addrs, tt.count)
			assert.Equal(t, netip.MustParseAddr(tt.first), addrs[0])
			assert.Equal(t, netip.MustParseAddr(tt.last), addrs[len(addrs)-1])
		})
	}

	_, err := ExpandCIDR("not-a-cidr/33")
	require.Error(t, err)
}

func TestBuildTargets(t *testing.T) {
	targets, errs := BuildTargets([]string{"10.1.0.0/30", "bogus", "10.2.0.1"}, 25, "smtp", false)

	assert.Len(t, errs, 1)
	require.Len(t, targets, 3)
	assert.Equal(t, "10.1.0.1:25", targets[0].String())
	assert.Equal(t, "10.2.0.1:25", targets[2].String())
	assert.Equal(t, "smtp", targets[0].Protocol)
}
