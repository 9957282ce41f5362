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

import "errors"

var (
	ErrMissingPort        = errors.New("no port given; add an explicit port to the target")
	ErrInvalidPort        = errors.New("port out of range")
	ErrInvalidAddress     = errors.New("invalid target address")
	ErrInvalidConcurrency = errors.New("concurrency must not be negative")
	ErrInvalidTimeout     = errors.New("timeouts must not be negative")
	ErrInvalidBanner      = errors.New("max banner size must not be negative")
)
