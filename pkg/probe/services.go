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
	"fmt"
	"net/netip"
	"strings"

	"github.com/carverauto/sockmux/pkg/models"
)

// Service describes what the prober does once a connection is up.
type Service struct {
	Name       string
	Quit       string
	WantBanner bool
}

const (
	quitCommand   = "quit\r\n"
	imapLogout    = "ABC123 LOGOUT\r\n"
	maxPortNumber = 65535
)

var services = map[string]Service{}

func init() {
	register := func(s Service, names ...string) {
		for _, name := range names {
			s.Name = name
			services[name] = s
		}
	}

	register(Service{Quit: quitCommand, WantBanner: true},
		"ftp", "smtp", "pop", "pop2", "pop-2", "pop3", "pop-3", "nntp")
	register(Service{Quit: imapLogout, WantBanner: true},
		"imap", "imap2", "imap3", "imap4")
	register(Service{WantBanner: true},
		"ssh", "ssh1", "ssh2", "rsync")
	register(Service{}, "telnet")
}

// LookupService returns the behavior for a service tag. Unknown tags
// connect only.
func LookupService(name string) (Service, bool) {
	s, ok := services[strings.ToLower(name)]
	if !ok {
		return Service{Name: name}, false
	}

	return s, true
}

// TargetFor builds a probe target for addr:port speaking service. A silent
// target only checks that the port accepts connections.
func TargetFor(addr netip.Addr, port int, service string, silent bool) (models.Target, error) {
	if !addr.IsValid() {
		return models.Target{}, ErrInvalidAddress
	}

	if port == 0 {
		return models.Target{}, fmt.Errorf("%s %s: %w", service, addr, ErrMissingPort)
	}

	if port < 0 || port > maxPortNumber {
		return models.Target{}, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	svc, _ := LookupService(service)

	t := models.Target{
		Address:    addr,
		Port:       port,
		Protocol:   svc.Name,
		WantBanner: svc.WantBanner,
		Silent:     silent,
	}

	if svc.Quit != "" {
		t.SendOnConnect = []byte(svc.Quit)
	}

	return t, nil
}
