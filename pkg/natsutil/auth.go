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

// Package natsutil holds NATS connection helpers shared by the result
// publisher and the config bucket client.
package natsutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

var ErrNotUserSeed = errors.New("nkey seed is not a user seed")

// NKeyOption authenticates with the user nkey seed stored in seedFile. The
// server only ever sees the public key and nonce signatures.
func NKeyOption(seedFile string) (nats.Option, error) {
	seed, err := os.ReadFile(seedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read nkey seed: %w", err)
	}

	kp, err := nkeys.FromSeed(bytes.TrimSpace(seed))
	if err != nil {
		return nil, fmt.Errorf("failed to parse nkey seed %s: %w", seedFile, err)
	}

	publicKey, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive nkey public key: %w", err)
	}

	if !nkeys.IsValidPublicUserKey(publicKey) {
		return nil, fmt.Errorf("%w: %s", ErrNotUserSeed, seedFile)
	}

	return nats.Nkey(publicKey, kp.Sign), nil
}
