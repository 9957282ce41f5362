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

package relay

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/sockmux/pkg/engine"
)

// maxAgeSeconds is the largest age a time.Duration can hold.
const maxAgeSeconds = math.MaxInt64 / int64(time.Second)

// SubMessage is one message queued on a client, split out of a pull
// response.
type SubMessage struct {
	Data []byte
	// Age is how long ago the client queued the message.
	Age time.Duration
}

// ParseBatch splits a pull response into its sub-messages. The first line
// lists "SIZE:AGE" tokens, one per message, and the messages follow
// back to back. A response without a header line carries no messages.
// Any malformed token rejects the whole batch with ErrCorruptBatch.
func ParseBatch(data []byte) ([]SubMessage, error) {
	header, payload, found := bytes.Cut(data, []byte("\n"))
	if !found || len(data) == 0 {
		return nil, nil
	}

	tokens := strings.Fields(string(header))
	msgs := make([]SubMessage, 0, len(tokens))
	offset := 0

	for _, tok := range tokens {
		sizeStr, ageStr, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, fmt.Errorf("%w: token %q has no age", engine.ErrCorruptBatch, tok)
		}

		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("%w: bad size in token %q", engine.ErrCorruptBatch, tok)
		}

		age, err := strconv.ParseInt(ageStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad age in token %q", engine.ErrCorruptBatch, tok)
		}

		if size <= 0 || size > len(payload)-offset {
			return nil, fmt.Errorf("%w: offset %d, size %d, payload %d bytes",
				engine.ErrCorruptBatch, offset, size, len(payload))
		}

		age = min(max(age, 0), maxAgeSeconds)

		msg := make([]byte, size)
		copy(msg, payload[offset:offset+size])

		msgs = append(msgs, SubMessage{Data: msg, Age: time.Duration(age) * time.Second})
		offset += size
	}

	return msgs, nil
}

// EncodeBatch builds a pull response from msgs.
func EncodeBatch(msgs []SubMessage) []byte {
	var (
		header  strings.Builder
		payload bytes.Buffer
	)

	for i, m := range msgs {
		if i > 0 {
			header.WriteByte(' ')
		}

		fmt.Fprintf(&header, "%d:%d", len(m.Data), int(m.Age/time.Second))
		payload.Write(m.Data)
	}

	header.WriteByte('\n')

	return append([]byte(header.String()), payload.Bytes()...)
}
