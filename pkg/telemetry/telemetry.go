// Package telemetry wires OpenTelemetry metrics for the forwarding
// pipeline. Metrics are optional; a disabled provider records nothing and
// every Record method stays safe to call.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config selects whether metrics are exported and how the service is
// identified in the emitted resource.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	ExportInterval time.Duration
}

// Provider holds the pipeline's instruments.
type Provider struct {
	config        Config
	meterProvider *sdkmetric.MeterProvider

	messagesReceived  metric.Int64Counter
	messagesDuplicate metric.Int64Counter
	messagesNoCode    metric.Int64Counter
	sends             metric.Int64Counter
	sendDuration      metric.Float64Histogram
	backlogEnqueued   metric.Int64Counter
}

// NewProvider builds the provider. When disabled the instruments come from
// the global no-op meter and nothing is exported.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "codeforward"
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = time.Minute
	}

	p := &Provider{config: cfg}

	meter := otel.Meter("codeforward")
	if cfg.Enabled {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("create resource: %w", err)
		}

		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("create exporter: %w", err)
		}

		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(cfg.ExportInterval))),
		)
		otel.SetMeterProvider(p.meterProvider)
		meter = p.meterProvider.Meter("codeforward")
	}

	if err := p.initInstruments(meter); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initInstruments(meter metric.Meter) error {
	var err error

	p.messagesReceived, err = meter.Int64Counter(
		"codeforward_messages_received_total",
		metric.WithDescription("Total number of messages received"),
	)
	if err != nil {
		return fmt.Errorf("create messages_received counter: %w", err)
	}

	p.messagesDuplicate, err = meter.Int64Counter(
		"codeforward_messages_duplicate_total",
		metric.WithDescription("Total number of duplicate messages dropped"),
	)
	if err != nil {
		return fmt.Errorf("create messages_duplicate counter: %w", err)
	}

	p.messagesNoCode, err = meter.Int64Counter(
		"codeforward_messages_no_code_total",
		metric.WithDescription("Total number of messages with no extractable code"),
	)
	if err != nil {
		return fmt.Errorf("create messages_no_code counter: %w", err)
	}

	p.sends, err = meter.Int64Counter(
		"codeforward_sends_total",
		metric.WithDescription("Total number of channel send outcomes"),
	)
	if err != nil {
		return fmt.Errorf("create sends counter: %w", err)
	}

	p.sendDuration, err = meter.Float64Histogram(
		"codeforward_send_duration_seconds",
		metric.WithDescription("Duration of channel send operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create send_duration histogram: %w", err)
	}

	p.backlogEnqueued, err = meter.Int64Counter(
		"codeforward_backlog_enqueued_total",
		metric.WithDescription("Total number of messages queued before startup"),
	)
	if err != nil {
		return fmt.Errorf("create backlog_enqueued counter: %w", err)
	}

	return nil
}

// RecordReceived counts one intercepted message.
func (p *Provider) RecordReceived(ctx context.Context) {
	p.messagesReceived.Add(ctx, 1)
}

// RecordDuplicate counts one dropped duplicate.
func (p *Provider) RecordDuplicate(ctx context.Context) {
	p.messagesDuplicate.Add(ctx, 1)
}

// RecordNoCode counts one message that carried no verification code.
func (p *Provider) RecordNoCode(ctx context.Context) {
	p.messagesNoCode.Add(ctx, 1)
}

// RecordSend counts one terminal channel outcome and its duration.
func (p *Provider) RecordSend(ctx context.Context, channel string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	)
	p.sends.Add(ctx, 1, attrs)
	p.sendDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBacklogEnqueued counts one message queued before startup.
func (p *Provider) RecordBacklogEnqueued(ctx context.Context) {
	p.backlogEnqueued.Add(ctx, 1)
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
