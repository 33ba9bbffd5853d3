package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// MiB is one mebibyte.
const MiB = 1 << 20

// DefaultChunkSizes is the part-size rotation used when nothing else is configured.
var DefaultChunkSizes = []uint64{10 * MiB, 5 * MiB, 16 * MiB}

// RetryPolicy controls how many times an upload is attempted and with which
// part size. Attempt i (1-indexed) uses ChunkSizes[(i-1) % len(ChunkSizes)].
type RetryPolicy struct {
	MaxAttempts int
	ChunkSizes  []uint64
	// Backoff builds the delay sequence for one upload call. nil means no delay.
	Backoff func() backoff.BackOff
}

// DefaultRetryPolicy returns three attempts over DefaultChunkSizes with a
// short exponential delay between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		ChunkSizes:  append([]uint64(nil), DefaultChunkSizes...),
		Backoff:     defaultBackoff,
	}
}

// NewRetryPolicy builds the default policy with firstChunk leading the
// rotation (when it is not already part of it) and maxAttempts attempts.
func NewRetryPolicy(firstChunk uint64, maxAttempts int) RetryPolicy {
	p := DefaultRetryPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if firstChunk == 0 || firstChunk == p.ChunkSizes[0] {
		return p
	}
	sizes := []uint64{firstChunk}
	for _, s := range p.ChunkSizes {
		if s != firstChunk {
			sizes = append(sizes, s)
		}
	}
	p.ChunkSizes = sizes
	return p
}

// ChunkSize returns the part size for the given 1-indexed attempt.
func (p RetryPolicy) ChunkSize(attempt int) uint64 {
	if len(p.ChunkSizes) == 0 || attempt < 1 {
		return 0
	}
	return p.ChunkSizes[(attempt-1)%len(p.ChunkSizes)]
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) newBackoff() backoff.BackOff {
	if p.Backoff == nil {
		return &backoff.ZeroBackOff{}
	}
	b := p.Backoff()
	b.Reset()
	return b
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// wait sleeps for d unless ctx is cancelled first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
