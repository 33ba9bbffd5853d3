package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/despertar/media/internal/storage"
	"github.com/despertar/media/internal/storage/storagetest"
	"github.com/despertar/media/internal/telemetry"
)

// The global provider can only be bound once per process.
var meterReader = sync.OnceValue(func() *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	if _, err := telemetry.Setup(context.Background(), telemetry.Options{Readers: []sdkmetric.Reader{reader}}, nil); err != nil {
		panic(err)
	}
	return reader
})

// counterValue sums the data points of name whose attributes contain every pair in match.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, match ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if hasAll(dp.Attributes, match) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func hasAll(set attribute.Set, match []attribute.KeyValue) bool {
	for _, kv := range match {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

func TestUploadMetrics(t *testing.T) {
	reader := meterReader()
	const metered = "metered"
	inBucket := attribute.String("bucket", metered)
	failed := attribute.String("outcome", "error")

	attemptsBefore := counterValue(t, reader, "media.storage.upload.attempts", inBucket, failed)
	failuresBefore := counterValue(t, reader, "media.storage.upload.failures", inBucket)

	store := storagetest.New(metered)
	store.PutHook = func(storagetest.PutCall) error { return errors.New("InternalError") }
	policy := storage.DefaultRetryPolicy()
	policy.MaxAttempts = 3
	policy.Backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	u := storage.NewUploader(store.Factory(), metered, storage.WithRetryPolicy(policy), storage.WithTempDir(t.TempDir()))

	_, err := u.Upload(context.Background(), "diario/u/1-a.pdf", storage.PathSource{Path: writeFile(t, []byte("pdf"))}, storage.Metadata{})
	require.ErrorIs(t, err, storage.ErrUploadFailed)

	assert.Equal(t, int64(3), counterValue(t, reader, "media.storage.upload.attempts", inBucket, failed)-attemptsBefore)
	assert.Equal(t, int64(1), counterValue(t, reader, "media.storage.upload.failures", inBucket)-failuresBefore)

	store.PutHook = nil
	bytesBefore := counterValue(t, reader, "media.storage.upload.bytes", inBucket)
	_, err = u.Upload(context.Background(), "diario/u/2-b.pdf", storage.PathSource{Path: writeFile(t, []byte("12345"))}, storage.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), counterValue(t, reader, "media.storage.upload.bytes", inBucket)-bytesBefore)
}
