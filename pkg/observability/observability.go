// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability exposes coordinator metrics through OpenTelemetry
// with a Prometheus exporter. A nil Manager is a safe no-op so callers
// never branch on whether metrics are enabled.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls metrics setup.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Manager owns the meter provider and the coordinator's instruments.
type Manager struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	sessionsSpawned   metric.Int64Counter
	sessionsFinished  metric.Int64Counter
	eventsEmitted     metric.Int64Counter
	checkpointsSaved  metric.Int64Counter
	sessionsSuspended metric.Int64Counter
}

// NewManager builds a Manager, or nil when disabled.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "maestro"
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	meter := provider.Meter(cfg.ServiceName)

	m := &Manager{provider: provider, registry: registry}
	if m.sessionsSpawned, err = meter.Int64Counter("maestro.sessions.spawned",
		metric.WithDescription("Sessions spawned or continued")); err != nil {
		return nil, err
	}
	if m.sessionsFinished, err = meter.Int64Counter("maestro.sessions.finished",
		metric.WithDescription("Sessions reaching a terminal status")); err != nil {
		return nil, err
	}
	if m.eventsEmitted, err = meter.Int64Counter("maestro.events.emitted",
		metric.WithDescription("Session events re-emitted by the coordinator")); err != nil {
		return nil, err
	}
	if m.checkpointsSaved, err = meter.Int64Counter("maestro.checkpoints.saved",
		metric.WithDescription("Checkpoints written to the snapshot store")); err != nil {
		return nil, err
	}
	if m.sessionsSuspended, err = meter.Int64Counter("maestro.sessions.suspended",
		metric.WithDescription("Suspension events surfaced to callers")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSpawn counts a spawned or continued session.
func (m *Manager) RecordSpawn(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsSpawned.Add(ctx, 1)
}

// RecordFinished counts a terminal session.
func (m *Manager) RecordFinished(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsFinished.Add(ctx, 1)
}

// RecordEvent counts one re-emitted session event.
func (m *Manager) RecordEvent(ctx context.Context) {
	if m == nil {
		return
	}
	m.eventsEmitted.Add(ctx, 1)
}

// RecordSuspension counts one suspension surfaced to callers.
func (m *Manager) RecordSuspension(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsSuspended.Add(ctx, 1)
}

// RecordCheckpoint counts one checkpoint write.
func (m *Manager) RecordCheckpoint(ctx context.Context) {
	if m == nil {
		return
	}
	m.checkpointsSaved.Add(ctx, 1)
}

// Handler serves the Prometheus scrape endpoint.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
