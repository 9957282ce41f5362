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

const (
	// minReadSpace is the free space guaranteed before each read.
	minReadSpace = 2048
	// growStep is the minimum amount a buffer grows by.
	growStep = 8192
)

// Buffer is a growable byte buffer owned by one slot. Writes consume it
// from an offset so partially written data never needs to be copied.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer returns a buffer holding a copy of p.
func NewBuffer(p []byte) *Buffer {
	b := &Buffer{}
	b.Append(p)

	return b
}

// Append adds p to the end of the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// AppendString adds s to the end of the buffer.
func (b *Buffer) AppendString(s string) {
	b.data = append(b.data, s...)
}

// Bytes returns the unconsumed contents. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[b.off:]
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.off
}

// Consume marks n bytes at the front as used.
func (b *Buffer) Consume(n int) {
	b.off += n
	if b.off > len(b.data) {
		b.off = len(b.data)
	}
}

// Rewind makes consumed bytes visible again. Used when a write has to be
// restarted on a new connection.
func (b *Buffer) Rewind() {
	b.off = 0
}

// Reset empties the buffer but keeps its capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}

// Compact drops consumed bytes and moves the rest to the front.
func (b *Buffer) Compact() {
	if b.off == 0 {
		return
	}

	n := copy(b.data, b.data[b.off:])
	b.data = b.data[:n]
	b.off = 0
}

// Free returns a writable tail of at least minReadSpace bytes. Call Commit
// with the number of bytes actually filled.
func (b *Buffer) Free() []byte {
	if cap(b.data)-len(b.data) < minReadSpace {
		grow := growStep
		if len(b.data) > grow {
			grow = len(b.data)
		}

		next := make([]byte, len(b.data), len(b.data)+grow)
		copy(next, b.data)
		b.data = next
	}

	return b.data[len(b.data):cap(b.data)]
}

// Commit extends the buffer by n bytes previously written into Free().
func (b *Buffer) Commit(n int) {
	b.data = b.data[:len(b.data)+n]
}

// Detach returns the unconsumed contents as an independent slice and
// empties the buffer.
func (b *Buffer) Detach() []byte {
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	b.Reset()

	return out
}
