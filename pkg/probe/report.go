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
	"io"
	"time"

	"github.com/carverauto/sockmux/pkg/models"
)

// FormatResult renders one result the way "fping -Ae" does.
func FormatResult(res models.ProbeResult) string {
	addr := res.Target.Address.String()

	if !res.Open {
		return addr + " is unreachable"
	}

	if res.Duration >= time.Millisecond {
		return fmt.Sprintf("%s is alive (%d ms)", addr, res.Duration.Milliseconds())
	}

	return fmt.Sprintf("%s is alive (0.%02d ms)", addr, res.Duration.Microseconds()/10)
}

// Report writes one line per result.
func Report(w io.Writer, results []models.ProbeResult) error {
	for _, res := range results {
		if _, err := fmt.Fprintln(w, FormatResult(res)); err != nil {
			return err
		}
	}

	return nil
}
