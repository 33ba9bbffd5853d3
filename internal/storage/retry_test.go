package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/despertar/media/internal/storage"
)

func TestRetryPolicyChunkRotation(t *testing.T) {
	p := storage.DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)

	want := []uint64{10 * storage.MiB, 5 * storage.MiB, 16 * storage.MiB, 10 * storage.MiB, 5 * storage.MiB, 16 * storage.MiB}
	for i, w := range want {
		assert.Equal(t, w, p.ChunkSize(i+1), "attempt %d", i+1)
	}
	assert.Zero(t, p.ChunkSize(0))
	assert.Zero(t, storage.RetryPolicy{}.ChunkSize(1))
}

func TestNewRetryPolicy(t *testing.T) {
	tests := []struct {
		name     string
		first    uint64
		attempts int
		want     []uint64
		wantMax  int
	}{
		{"defaults", 0, 0, []uint64{10 * storage.MiB, 5 * storage.MiB, 16 * storage.MiB}, 3},
		{"same first chunk", 10 * storage.MiB, 4, []uint64{10 * storage.MiB, 5 * storage.MiB, 16 * storage.MiB}, 4},
		{"custom first chunk", 8 * storage.MiB, 2, []uint64{8 * storage.MiB, 10 * storage.MiB, 5 * storage.MiB, 16 * storage.MiB}, 2},
		{"existing chunk moves to front", 16 * storage.MiB, 3, []uint64{16 * storage.MiB, 10 * storage.MiB, 5 * storage.MiB}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := storage.NewRetryPolicy(tc.first, tc.attempts)
			assert.Equal(t, tc.want, p.ChunkSizes)
			assert.Equal(t, tc.wantMax, p.MaxAttempts)
		})
	}
}
