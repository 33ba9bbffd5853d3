// Package storage moves media files in and out of an S3-compatible object store.
// The Client interface is implemented by a MinIO driver and an AWS SDK driver;
// the Uploader, BucketManager and Remover are built on top of it and never touch
// a concrete driver directly.
package storage

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"
)

var (
	// ErrConnectivity is returned when the store is unreachable or rejects the credentials.
	ErrConnectivity = errors.New("object store unreachable")
	// ErrNotFound is returned when a bucket or key does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrUploadFailed is returned when every upload attempt failed. It wraps the last cause.
	ErrUploadFailed = errors.New("upload failed")
	// ErrInvalidInput is returned before any network call when the payload is unusable.
	ErrInvalidInput = errors.New("invalid upload input")
	// ErrPolicy is returned when the bucket policy could not be applied.
	ErrPolicy = errors.New("bucket policy not applied")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
	ETag         string
}

// PutOptions carries the store-side metadata recorded with an object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Client is the set of primitive operations the media subsystem needs from an
// S3-compatible store. Implementations classify store errors into ErrNotFound
// and ErrConnectivity where they can.
type Client interface {
	// PutObject writes r under key. size is the exact byte count, or -1 when unknown.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	// RemoveObject succeeds when the key is already absent.
	RemoveObject(ctx context.Context, bucket, key string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
	SetBucketPolicy(ctx context.Context, bucket, policy string) error
	PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[ObjectInfo, error]
	ListBuckets(ctx context.Context) ([]string, error)
}

// ClientFactory returns a client whose multipart uploads use partSize bytes per
// part. A zero partSize leaves the driver default in place.
type ClientFactory func(partSize uint64) (Client, error)

// Metadata keys written alongside each object.
const (
	MetaOriginalName = "Original-Name"
	MetaOwner        = "Owner"
)
