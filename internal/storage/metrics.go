package storage

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	uploadAttempts metric.Int64Counter
	uploadFailures metric.Int64Counter
	uploadBytes    metric.Int64Counter
	removeErrors   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/despertar/media/internal/storage")

	var err error
	uploadAttempts, err = meter.Int64Counter(
		"media.storage.upload.attempts",
		metric.WithDescription("Number of object store put attempts"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.attempts counter: %w", err))
	}

	uploadFailures, err = meter.Int64Counter(
		"media.storage.upload.failures",
		metric.WithDescription("Number of uploads that exhausted every attempt"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.failures counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"media.storage.upload.bytes",
		metric.WithDescription("Bytes written to the object store"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}

	removeErrors, err = meter.Int64Counter(
		"media.storage.remove.errors",
		metric.WithDescription("Number of failed object removals"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create remove.errors counter: %w", err))
	}
}
