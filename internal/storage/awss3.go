package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client implements Client on the AWS SDK. Uploads go through the SDK's
// multipart upload manager so the part size is honoured the same way the
// MinIO driver honours it.
type S3Client struct {
	client   *s3.Client
	presign  *s3.PresignClient
	partSize int64
}

var _ Client = (*S3Client)(nil)

// NewS3Client loads an AWS config with static credentials and points it at
// the profile endpoint when one is set (MinIO, Ceph, R2...).
func NewS3Client(ctx context.Context, p Profile) (*S3Client, error) {
	region := p.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(p.AccessKey, p.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := p.URL(); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = p.PathStyle
	})

	return &S3Client{
		client:   client,
		presign:  s3.NewPresignClient(client),
		partSize: int64(p.PartSize),
	}, nil
}

// WithPartSize returns a copy of c that uploads multipart objects in parts of n bytes.
func (c *S3Client) WithPartSize(n uint64) *S3Client {
	return &S3Client{client: c.client, presign: c.presign, partSize: int64(n)}
}

func (c *S3Client) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error {
	uploader := manager.NewUploader(c.client, func(u *manager.Uploader) {
		if c.partSize > 0 {
			u.PartSize = c.partSize
		}
	})

	input := &s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     r,
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("put object %q: %w", key, classifyS3Error(err))
	}
	return nil
}

func (c *S3Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, classifyS3Error(err))
	}
	return out.Body, nil
}

func (c *S3Client) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat object %q: %w", key, classifyS3Error(err))
	}

	meta := make(map[string]string, len(out.Metadata))
	for k, v := range out.Metadata {
		meta[http.CanonicalHeaderKey(k)] = v
	}
	return ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     meta,
		LastModified: aws.ToTime(out.LastModified),
		ETag:         aws.ToString(out.ETag),
	}, nil
}

func (c *S3Client) RemoveObject(ctx context.Context, bucket, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	err = classifyS3Error(err)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return fmt.Errorf("remove object %q: %w", key, err)
}

func (c *S3Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	err = classifyS3Error(err)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("check bucket existence: %w", err)
}

func (c *S3Client) MakeBucket(ctx context.Context, bucket, region string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := c.client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, classifyS3Error(err))
	}
	return nil
}

func (c *S3Client) SetBucketPolicy(ctx context.Context, bucket, policy string) error {
	_, err := c.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(policy),
	})
	if err != nil {
		return fmt.Errorf("set bucket policy: %w", classifyS3Error(err))
	}
	return nil
}

func (c *S3Client) PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, classifyS3Error(err))
	}
	return req.URL, nil
}

func (c *S3Client) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		}
		if !recursive {
			input.Delimiter = aws.String("/")
		}

		pages := s3.NewListObjectsV2Paginator(c.client, input)
		for pages.HasMorePages() {
			page, err := pages.NextPage(ctx)
			if err != nil {
				yield(ObjectInfo{}, fmt.Errorf("list objects: %w", classifyS3Error(err)))
				return
			}
			for _, obj := range page.Contents {
				info := ObjectInfo{
					Key:          aws.ToString(obj.Key),
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
					ETag:         aws.ToString(obj.ETag),
				}
				if !yield(info, nil) {
					return
				}
			}
		}
	}
}

func (c *S3Client) ListBuckets(ctx context.Context) ([]string, error) {
	out, err := c.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", classifyS3Error(err))
	}
	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}

func classifyS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case "AccessDenied", "InvalidAccessKeyId", "Forbidden":
			return fmt.Errorf("%w: %w", ErrConnectivity, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrConnectivity, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	return err
}
