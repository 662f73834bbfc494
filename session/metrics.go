// ABOUTME: OpenTelemetry instruments for build sessions: starts, outcomes, durations, and questions.
package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/logging"
)

const meterName = "github.com/2389-research/buildpilot/session"

type metrics struct {
	started  metric.Int64Counter
	finished metric.Int64Counter
	duration metric.Float64Histogram
	asks     metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	m := &metrics{}
	var err error
	if m.started, err = meter.Int64Counter("buildpilot.sessions.started",
		metric.WithDescription("Build sessions submitted")); err != nil {
		logging.Warn().Err(err).Msg("metrics: sessions.started")
	}
	if m.finished, err = meter.Int64Counter("buildpilot.sessions.finished",
		metric.WithDescription("Build sessions that reached a terminal state")); err != nil {
		logging.Warn().Err(err).Msg("metrics: sessions.finished")
	}
	if m.duration, err = meter.Float64Histogram("buildpilot.session.duration",
		metric.WithDescription("Build session duration"),
		metric.WithUnit("s")); err != nil {
		logging.Warn().Err(err).Msg("metrics: session.duration")
	}
	if m.asks, err = meter.Int64Counter("buildpilot.asks",
		metric.WithDescription("Questions put to the operator, by resolution")); err != nil {
		logging.Warn().Err(err).Msg("metrics: asks")
	}
	return m
}

func (m *metrics) recordStart(project string) {
	if m.started != nil {
		m.started.Add(context.Background(), 1, metric.WithAttributes(attribute.String("project", project)))
	}
}

func (m *metrics) recordFinish(project string, outcome backend.Outcome, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("project", project),
		attribute.String("outcome", string(outcome)),
	)
	if m.finished != nil {
		m.finished.Add(context.Background(), 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(context.Background(), d.Seconds(), attrs)
	}
}

func (m *metrics) recordAsk(resolution string) {
	if m.asks != nil {
		m.asks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("resolution", resolution)))
	}
}
