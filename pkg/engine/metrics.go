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
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/carverauto/sockmux/pkg/engine"

// Metrics holds the engine's OpenTelemetry instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	iterations metric.Int64Counter
	timeouts   metric.Int64Counter
	interrupts metric.Int64Counter
	ready      metric.Int64Counter
	outcomes   metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.iterations, err = meter.Int64Counter("sockmux.engine.iterations",
		metric.WithDescription("Readiness waits performed")); err != nil {
		return nil, fmt.Errorf("iterations counter: %w", err)
	}

	if m.timeouts, err = meter.Int64Counter("sockmux.engine.timeouts",
		metric.WithDescription("Readiness waits that returned no events")); err != nil {
		return nil, fmt.Errorf("timeouts counter: %w", err)
	}

	if m.interrupts, err = meter.Int64Counter("sockmux.engine.interrupts",
		metric.WithDescription("Readiness waits interrupted by a signal")); err != nil {
		return nil, fmt.Errorf("interrupts counter: %w", err)
	}

	if m.ready, err = meter.Int64Counter("sockmux.engine.ready_events",
		metric.WithDescription("Socket readiness events dispatched")); err != nil {
		return nil, fmt.Errorf("ready counter: %w", err)
	}

	if m.outcomes, err = meter.Int64Counter("sockmux.engine.outcomes",
		metric.WithDescription("Terminal slot outcomes by kind and class")); err != nil {
		return nil, fmt.Errorf("outcomes counter: %w", err)
	}

	return &m, nil
}

func (m *Metrics) recordIteration(ctx context.Context) {
	if m != nil {
		m.iterations.Add(ctx, 1)
	}
}

func (m *Metrics) recordTimeout(ctx context.Context) {
	if m != nil {
		m.timeouts.Add(ctx, 1)
	}
}

func (m *Metrics) recordInterrupt(ctx context.Context) {
	if m != nil {
		m.interrupts.Add(ctx, 1)
	}
}

func (m *Metrics) recordReady(ctx context.Context, n int) {
	if m != nil && n > 0 {
		m.ready.Add(ctx, int64(n))
	}
}

// RecordOutcome counts one finished slot. kind names the engine ("probe",
// "pull", "proxy") and err is classified with Classify.
func (m *Metrics) RecordOutcome(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}

	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("class", Classify(err)),
	))
}
