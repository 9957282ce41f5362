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
	"strings"

	"github.com/carverauto/sockmux/pkg/models"
)

// ExpandCIDR expands a prefix into its host addresses. For IPv4 prefixes
// shorter than /31 the network and broadcast addresses are skipped.
// A bare address is returned as a single entry.
func ExpandCIDR(cidr string) ([]netip.Addr, error) {
	if !strings.Contains(cidr, "/") {
		addr, err := netip.ParseAddr(cidr)
		if err != nil {
			return nil, err
		}

		return []netip.Addr{addr}, nil
	}

	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, err
	}

	prefix = prefix.Masked()

	var addrs []netip.Addr

	skipEdges := prefix.Addr().Is4() && prefix.Bits() < 31

	for addr := prefix.Addr(); addr.IsValid() && prefix.Contains(addr); addr = addr.Next() {
		if skipEdges && (addr == prefix.Addr() || isBroadcast(addr, prefix)) {
			continue
		}

		addrs = append(addrs, addr)
	}

	return addrs, nil
}

// isBroadcast checks if addr is the last address of an IPv4 prefix.
func isBroadcast(addr netip.Addr, prefix netip.Prefix) bool {
	next := addr.Next()

	return !next.IsValid() || !prefix.Contains(next)
}

// BuildTargets expands every entry of cidrs into targets on port speaking
// service. Entries that fail to parse are returned in the error slice and
// skipped.
func BuildTargets(cidrs []string, port int, service string, silent bool) ([]models.Target, []error) {
	var (
		targets []models.Target
		errs    []error
	)

	for _, cidr := range cidrs {
		addrs, err := ExpandCIDR(cidr)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		for _, addr := range addrs {
			t, err := TargetFor(addr, port, service, silent)
			if err != nil {
				errs = append(errs, err)

				continue
			}

			targets = append(targets, t)
		}
	}

	return targets, errs
}
