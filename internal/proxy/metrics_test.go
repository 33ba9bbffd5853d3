package proxy_test

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/despertar/media/internal/telemetry"
)

var meterReader = sync.OnceValue(func() *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	if _, err := telemetry.Setup(context.Background(), telemetry.Options{Readers: []sdkmetric.Reader{reader}}, nil); err != nil {
		panic(err)
	}
	return reader
})

func counterTotal(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, meterReader().Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestServeMetrics(t *testing.T) {
	meterReader()
	f := newFixture(t, "")
	f.store.Seed(bucket, "perfil/u/1.png", []byte("123456"), "image/png")

	served, bytesOut, misses := counterTotal(t, "media.proxy.served.count"), counterTotal(t, "media.proxy.served.bytes"), counterTotal(t, "media.proxy.miss.count")

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/proxy/minio/perfil/u/1.png", nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/proxy/minio/perfil/u/gone.png", nil).Code)

	assert.Equal(t, int64(1), counterTotal(t, "media.proxy.served.count")-served)
	assert.Equal(t, int64(6), counterTotal(t, "media.proxy.served.bytes")-bytesOut)
	assert.Equal(t, int64(1), counterTotal(t, "media.proxy.miss.count")-misses)
}
