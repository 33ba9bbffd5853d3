// Package telemetry installs the process-wide OpenTelemetry meter provider.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap"
)

// Options configures Setup.
type Options struct {
	ServiceName string
	Endpoint    string // OTLP gRPC collector, host:port; empty disables export
	Insecure    bool
	Interval    time.Duration
	Readers     []sdkmetric.Reader
}

// Setup builds a MeterProvider from opts and makes it the global provider, so
// instruments created through otel.Meter start recording. Callers must Shutdown
// the returned provider to flush pending exports.
func Setup(ctx context.Context, opts Options, log *zap.Logger) (*sdkmetric.MeterProvider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "despertar-media"
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}

	providerOpts := []sdkmetric.Option{
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", opts.ServiceName))),
	}
	for _, r := range opts.Readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(r))
	}

	if opts.Endpoint != "" {
		expOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			expOpts = append(expOpts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, expOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(opts.Interval)),
		))
		log.Info("metrics export enabled",
			zap.String("endpoint", opts.Endpoint),
			zap.Duration("interval", opts.Interval),
		)
	} else {
		log.Info("metrics export disabled, OTEL_EXPORTER_OTLP_ENDPOINT not set")
	}

	provider := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(provider)
	return provider, nil
}
