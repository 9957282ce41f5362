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
	"github.com/stretchr/testify/require"
)

func TestBufferConsumeAndCompact(t *testing.T) {
	b := NewBuffer([]byte("hello world"))

	b.Consume(6)
	assert.Equal(t, "world", string(b.Bytes()))
	assert.Equal(t, 5, b.Len())

	b.Compact()
	assert.Equal(t, "world", string(b.Bytes()))

	b.AppendString("!")
	assert.Equal(t, "world!", string(b.Bytes()))

	b.Consume(100)
	assert.Equal(t, 0, b.Len())
}

func TestBufferRewind(t *testing.T) {
	b := NewBuffer([]byte("payload"))
	b.Consume(3)
	b.Rewind()

	assert.Equal(t, "payload", string(b.Bytes()))
}

func TestBufferFreeCommit(t *testing.T) {
	var b Buffer

	b.AppendString("ab")

	free := b.Free()
	require.GreaterOrEqual(t, len(free), minReadSpace)

	n := copy(free, "cdef")
	b.Commit(n)

	assert.Equal(t, "abcdef", string(b.Bytes()))

	out := b.Detach()
	assert.Equal(t, "abcdef", string(out))
	assert.Equal(t, 0, b.Len())

	// Detached data must not alias the buffer.
	b.AppendString("zz")
	assert.Equal(t, "abcdef", string(out))
}
