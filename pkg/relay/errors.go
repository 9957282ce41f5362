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

import "errors"

var (
	ErrServerRequired   = errors.New("server address is required")
	ErrUpstreamRequired = errors.New("upstream address is required")
	ErrListenRequired   = errors.New("listen address is required")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidSetting   = errors.New("invalid relay setting")
	ErrHostsFileMissing = errors.New("hosts file is required")
	ErrMessageLost      = errors.New("upstream not responding, message lost")
)
