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

package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBudgetLimits(t *testing.T) {
	b := NewBudget(2)

	assert.True(t, b.TryAcquire())
	assert.True(t, b.TryAcquire())
	assert.False(t, b.TryAcquire())
	assert.True(t, b.Full())

	// Forced acquisition goes past the limit and is tracked in the peak.
	b.Acquire()
	assert.Equal(t, 3, b.InUse())
	assert.Equal(t, 3, b.Peak())

	b.Release()
	b.Release()
	assert.False(t, b.Full())
	assert.Equal(t, 1, b.InUse())
	assert.Equal(t, 3, b.Peak())

	b.Release()
	b.Release()
	assert.Equal(t, 0, b.InUse())
}

func TestBudgetUnlimited(t *testing.T) {
	b := NewBudget(0)

	for i := 0; i < 1000; i++ {
		assert.True(t, b.TryAcquire())
	}

	assert.False(t, b.Full())
	assert.Equal(t, 1000, b.Peak())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("%w: x", ErrRefused), "refused"},
		{fmt.Errorf("%w: x", ErrUnreachable), "unreachable"},
		{ErrTimedOut, "timeout"},
		{ErrPeerClosed, "peer_closed"},
		{ErrNoSocket, "resource"},
		{ErrBudgetExhausted, "resource"},
		{ErrCorruptBatch, "corrupt"},
		{errors.New("boom"), "unexpected"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err))
	}

	assert.True(t, IsExpectedDown(fmt.Errorf("%w: x", ErrRefused)))
	assert.False(t, IsExpectedDown(ErrUnexpected))
	assert.True(t, IsResourceExhausted(ErrNoSocket))
}
