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

package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Control is an operator request delivered to a running relay.
type Control int

const (
	// ControlReload re-reads the host list.
	ControlReload Control = iota + 1
	// ControlDump logs every active session.
	ControlDump
	// ControlStop ends the relay loop.
	ControlStop
)

func (c Control) String() string {
	switch c {
	case ControlReload:
		return "reload"
	case ControlDump:
		return "dump"
	case ControlStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ControlFor maps a signal to its control. SIGHUP reloads, SIGUSR1
// dumps, SIGINT and SIGTERM stop.
func ControlFor(sig os.Signal) (Control, bool) {
	switch sig {
	case syscall.SIGHUP:
		return ControlReload, true
	case syscall.SIGUSR1:
		return ControlDump, true
	case syscall.SIGINT, syscall.SIGTERM:
		return ControlStop, true
	default:
		return 0, false
	}
}

// Controls turns process signals into controls until ctx is done. The
// returned channel is closed afterwards. Each control is fanned out to
// every subscriber, so several relays in one process all see a reload.
func Controls(ctx context.Context, subscribers int) []<-chan Control {
	if subscribers < 1 {
		subscribers = 1
	}

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	outs := make([]chan Control, subscribers)
	ro := make([]<-chan Control, subscribers)

	for i := range outs {
		outs[i] = make(chan Control, 4)
		ro[i] = outs[i]
	}

	go func() {
		defer signal.Stop(sigs)
		defer func() {
			for _, out := range outs {
				close(out)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				ctrl, ok := ControlFor(sig)
				if !ok {
					continue
				}

				for _, out := range outs {
					select {
					case out <- ctrl:
					default:
					}
				}
			}
		}
	}()

	return ro
}
