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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithWriterLevels(t *testing.T) {
	var buf bytes.Buffer

	log, err := NewWithWriter(&buf, &Config{Level: "warn"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	log.Info().Msg("hidden")
	log.Warn().Str("peer", "10.0.0.1:1984").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}

	if entry["message"] != "shown" || entry["peer"] != "10.0.0.1:1984" || entry["level"] != "warn" {
		t.Errorf("Unexpected entry: %v", entry)
	}

	if _, ok := entry["time"]; !ok {
		t.Error("Expected a timestamp")
	}
}

func TestSetDebug(t *testing.T) {
	var buf bytes.Buffer

	log, err := NewWithWriter(&buf, &Config{})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	log.Debug().Msg("before")

	log.SetDebug(true)
	log.Debug().Msg("after")

	log.SetDebug(false)
	log.Debug().Msg("again")

	if strings.Contains(buf.String(), "before") || strings.Contains(buf.String(), "again") {
		t.Errorf("Debug line leaked at info level: %q", buf.String())
	}

	if !strings.Contains(buf.String(), "after") {
		t.Errorf("Expected debug line after SetDebug(true): %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer

	log, err := NewWithWriter(&buf, &Config{Debug: true})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	component := log.WithComponent("proxy")
	if component.GetLevel() != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %v", component.GetLevel())
	}

	component.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"proxy"`) {
		t.Errorf("Expected component field: %q", buf.String())
	}

	fields := log.WithFields(map[string]interface{}{"relay_id": "r1"})
	fields.Info().Msg("fields")

	if !strings.Contains(buf.String(), `"relay_id":"r1"`) {
		t.Errorf("Expected relay_id field: %q", buf.String())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(context.Background(), &Config{Output: "syslog"}); !errors.Is(err, ErrUnknownOutput) {
		t.Errorf("Expected ErrUnknownOutput, got %v", err)
	}

	if _, err := NewWithWriter(&bytes.Buffer{}, &Config{Level: "loud"}); err == nil {
		t.Error("Expected an error for an unknown level")
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_OUTPUT", "stderr")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer x, team = net")

	config := DefaultConfig()

	if config.Level != "debug" || config.Output != "stderr" {
		t.Errorf("Unexpected config: %+v", config)
	}

	if config.OTel.ServiceName != "sockmux" {
		t.Errorf("Expected default service name, got %q", config.OTel.ServiceName)
	}

	if config.OTel.Headers["authorization"] != "Bearer x" || config.OTel.Headers["team"] != "net" {
		t.Errorf("Unexpected headers: %v", config.OTel.Headers)
	}
}

func TestTestLoggerDiscards(t *testing.T) {
	log := NewTestLogger()

	log.Error().Msg("nothing")

	if log.Debug().Enabled() || log.Error().Enabled() {
		t.Error("Test logger must stay silent")
	}
}
