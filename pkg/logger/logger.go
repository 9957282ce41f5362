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

// Package logger provides JSON structured logging using zerolog
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string     `json:"level"`
	Debug      bool       `json:"debug"`
	Output     string     `json:"output"`
	TimeFormat string     `json:"time_format"`
	OTel       OTelConfig `json:"otel"`
}

// New builds a Logger from config. A nil config uses DefaultConfig. When
// OTel export is enabled, every line is also shipped over OTLP.
func New(ctx context.Context, config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer = os.Stdout

	switch config.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutput, config.Output)
	}

	if config.OTel.Enabled && config.OTel.Endpoint != "" {
		otelWriter, err := NewOTelWriter(ctx, config.OTel)
		if err != nil {
			return nil, err
		}

		output = zerolog.MultiLevelWriter(output, otelWriter)
	}

	return NewWithWriter(output, config)
}

// NewWithWriter builds a Logger writing to w.
func NewWithWriter(w io.Writer, config *Config) (Logger, error) {
	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
	}

	if config.TimeFormat != "" {
		setTimeFormat(config.TimeFormat)
	}

	base := zerolog.New(w).Level(level).With().Timestamp().Logger()

	return &zerologLogger{base: base}, nil
}

var timeFormatOnce sync.Once

// zerolog keeps the time format in a package variable. The first
// configured format wins.
func setTimeFormat(format string) {
	timeFormatOnce.Do(func() { zerolog.TimeFieldFormat = format })
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

type zerologLogger struct {
	mu   sync.RWMutex
	base zerolog.Logger
}

func (l *zerologLogger) get() *zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	base := l.base

	return &base
}

func (l *zerologLogger) Trace() *zerolog.Event { return l.get().Trace() }
func (l *zerologLogger) Debug() *zerolog.Event { return l.get().Debug() }
func (l *zerologLogger) Info() *zerolog.Event  { return l.get().Info() }
func (l *zerologLogger) Warn() *zerolog.Event  { return l.get().Warn() }
func (l *zerologLogger) Error() *zerolog.Event { return l.get().Error() }
func (l *zerologLogger) Fatal() *zerolog.Event { return l.get().Fatal() }
func (l *zerologLogger) Panic() *zerolog.Event { return l.get().Panic() }
func (l *zerologLogger) With() zerolog.Context { return l.get().With() }

func (l *zerologLogger) WithComponent(component string) zerolog.Logger {
	return l.get().With().Str("component", component).Logger()
}

func (l *zerologLogger) WithFields(fields map[string]interface{}) zerolog.Logger {
	return l.get().With().Fields(fields).Logger()
}

func (l *zerologLogger) SetLevel(level zerolog.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.base = l.base.Level(level)
}

func (l *zerologLogger) SetDebug(debug bool) {
	if debug {
		l.SetLevel(zerolog.DebugLevel)
	} else {
		l.SetLevel(zerolog.InfoLevel)
	}
}

// ForComponent wraps l so every line carries the component field.
func ForComponent(l Logger, component string) Logger {
	return &zerologLogger{base: l.WithComponent(component)}
}
