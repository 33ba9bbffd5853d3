package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient implements Client using a MinIO (or any S3-compatible) backend.
// Copies made by WithPartSize share the underlying connection pool.
type MinioClient struct {
	client   *minio.Client
	partSize uint64
}

var _ Client = (*MinioClient)(nil)

// NewMinioClient creates a MinIO client for the given profile. No network call is made.
func NewMinioClient(p Profile) (*MinioClient, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(p.AccessKey, p.SecretKey, ""),
		Secure: p.UseSSL,
		Region: p.Region,
	}
	if p.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(p.HostPort(), opts)
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioClient{client: client, partSize: p.PartSize}, nil
}

// WithPartSize returns a copy of c that uploads multipart objects in parts of n bytes.
func (c *MinioClient) WithPartSize(n uint64) *MinioClient {
	return &MinioClient{client: c.client, partSize: n}
}

// PutObject streams r to the bucket under key.
func (c *MinioClient) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error {
	_, err := c.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
		PartSize:     c.partSize,
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, classifyMinioError(err))
	}
	return nil
}

// GetObject opens a reader for key. The object is stat'ed first so a missing
// key surfaces here instead of on the first Read.
func (c *MinioClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, classifyMinioError(err))
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("get object %q: %w", key, classifyMinioError(err))
	}
	return obj, nil
}

func (c *MinioClient) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat object %q: %w", key, classifyMinioError(err))
	}
	return fromMinioInfo(info), nil
}

// RemoveObject deletes key. S3 already treats a missing key as success; a
// not-found answer from a stricter backend is mapped to success as well.
func (c *MinioClient) RemoveObject(ctx context.Context, bucket, key string) error {
	err := c.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err == nil {
		return nil
	}
	err = classifyMinioError(err)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return fmt.Errorf("remove object %q: %w", key, err)
}

func (c *MinioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("check bucket existence: %w", classifyMinioError(err))
	}
	return ok, nil
}

func (c *MinioClient) MakeBucket(ctx context.Context, bucket, region string) error {
	if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, classifyMinioError(err))
	}
	return nil
}

func (c *MinioClient) SetBucketPolicy(ctx context.Context, bucket, policy string) error {
	if err := c.client.SetBucketPolicy(ctx, bucket, policy); err != nil {
		return fmt.Errorf("set bucket policy: %w", classifyMinioError(err))
	}
	return nil
}

func (c *MinioClient) PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, classifyMinioError(err))
	}
	return u.String(), nil
}

// ListObjects yields objects under prefix. Breaking out of the loop cancels the listing.
func (c *MinioClient) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for obj := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
			if obj.Err != nil {
				yield(ObjectInfo{}, fmt.Errorf("list objects: %w", classifyMinioError(obj.Err)))
				return
			}
			if !yield(fromMinioInfo(obj), nil) {
				return
			}
		}
	}
}

func (c *MinioClient) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := c.client.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", classifyMinioError(err))
	}
	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	return names, nil
}

func fromMinioInfo(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		Metadata:     info.UserMetadata,
		LastModified: info.LastModified,
		ETag:         info.ETag,
	}
}

// classifyMinioError maps MinIO error responses onto the package sentinels.
func classifyMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.Code == "NoSuchKey", resp.Code == "NoSuchBucket":
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
		resp.Code == "InvalidAccessKeyId":
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	return err
}
