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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolSweepPreservesOrder(t *testing.T) {
	var p Pool[int]

	for i := 1; i <= 6; i++ {
		p.Add(i)
	}

	removed := p.Sweep(func(v int) bool { return v%2 == 0 })

	assert.Equal(t, 3, removed)
	assert.Equal(t, []int{2, 4, 6}, p.Items())

	p.Add(7)
	assert.Equal(t, []int{2, 4, 6, 7}, p.Items())

	assert.Equal(t, 4, p.Sweep(func(int) bool { return false }))
	assert.Equal(t, 0, p.Len())
}
