package storage

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Remover deletes objects from one bucket.
type Remover struct {
	client Client
	bucket string
	log    *zap.Logger
}

// NewRemover returns a Remover for bucket.
func NewRemover(client Client, bucket string, log *zap.Logger) *Remover {
	if log == nil {
		log = zap.NewNop()
	}
	return &Remover{client: client, bucket: bucket, log: log.Named("remover")}
}

// Remove deletes key. A key that is already gone counts as removed.
func (r *Remover) Remove(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: invalid key %q", ErrInvalidInput, key)
	}
	err := r.client.RemoveObject(ctx, r.bucket, key)
	if err == nil || errors.Is(err, ErrNotFound) {
		r.log.Debug("object removed", zap.String("key", key))
		return nil
	}
	removeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", r.bucket)))
	return err
}
