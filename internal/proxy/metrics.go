package proxy

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	servedCount metric.Int64Counter
	servedBytes metric.Int64Counter
	missCount   metric.Int64Counter
	serveErrors metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/despertar/media/internal/proxy")

	var err error
	servedCount, err = meter.Int64Counter(
		"media.proxy.served.count",
		metric.WithDescription("Number of objects served through the proxy"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create served.count counter: %w", err))
	}

	servedBytes, err = meter.Int64Counter(
		"media.proxy.served.bytes",
		metric.WithDescription("Bytes staged and served through the proxy"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create served.bytes counter: %w", err))
	}

	missCount, err = meter.Int64Counter(
		"media.proxy.miss.count",
		metric.WithDescription("Number of proxy requests for missing objects"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create miss.count counter: %w", err))
	}

	serveErrors, err = meter.Int64Counter(
		"media.proxy.errors",
		metric.WithDescription("Number of proxy requests that failed unexpectedly"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create errors counter: %w", err))
	}
}
