// Package observability wires structured logging and OpenTelemetry
// metrics for the oracle processes.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// NewLogger builds the process-wide slog logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Setup installs a metrics provider for the service and returns its
// shutdown hook.
func Setup(serviceName string) (func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

// Meter bundles the oracle's counters.
type Meter struct {
	proofsAccepted     metric.Int64Counter
	proofsRejected     metric.Int64Counter
	consensusFormed    metric.Int64Counter
	consensusPublished metric.Int64Counter
	publishRetries     metric.Int64Counter
	adapterLatency     metric.Float64Histogram
}

// NewMeter creates the oracle instruments on the global provider.
func NewMeter() (*Meter, error) {
	return newMeter(otel.Meter("petal-oracle"))
}

// Noop returns a meter that records nothing; used in tests and when
// telemetry is disabled.
func Noop() *Meter {
	m, _ := newMeter(noop.NewMeterProvider().Meter("petal-oracle"))
	return m
}

func newMeter(m metric.Meter) (*Meter, error) {
	out := &Meter{}
	var err error
	if out.proofsAccepted, err = m.Int64Counter("oracle.proofs.accepted"); err != nil {
		return nil, err
	}
	if out.proofsRejected, err = m.Int64Counter("oracle.proofs.rejected"); err != nil {
		return nil, err
	}
	if out.consensusFormed, err = m.Int64Counter("oracle.consensus.formed"); err != nil {
		return nil, err
	}
	if out.consensusPublished, err = m.Int64Counter("oracle.consensus.published"); err != nil {
		return nil, err
	}
	if out.publishRetries, err = m.Int64Counter("oracle.publish.retries"); err != nil {
		return nil, err
	}
	if out.adapterLatency, err = m.Float64Histogram("oracle.adapter.latency_ms"); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Meter) ProofAccepted()      { m.proofsAccepted.Add(context.Background(), 1) }
func (m *Meter) ProofRejected()      { m.proofsRejected.Add(context.Background(), 1) }
func (m *Meter) ConsensusFormed()    { m.consensusFormed.Add(context.Background(), 1) }
func (m *Meter) ConsensusPublished() { m.consensusPublished.Add(context.Background(), 1) }
func (m *Meter) PublishRetried()     { m.publishRetries.Add(context.Background(), 1) }

// AdapterLatency records one adapter call duration.
func (m *Meter) AdapterLatency(d time.Duration) {
	m.adapterLatency.Record(context.Background(), float64(d.Milliseconds()))
}
