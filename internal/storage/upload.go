package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Metadata is recorded with the object at write time.
type Metadata struct {
	ContentType  string
	OriginalName string
	Owner        string
}

func (m Metadata) putOptions() PutOptions {
	opts := PutOptions{ContentType: m.ContentType}
	if m.OriginalName != "" || m.Owner != "" {
		opts.Metadata = make(map[string]string, 2)
		if m.OriginalName != "" {
			opts.Metadata[MetaOriginalName] = m.OriginalName
		}
		if m.Owner != "" {
			opts.Metadata[MetaOwner] = m.Owner
		}
	}
	return opts
}

// Uploader persists payloads to one bucket, retrying with a rotating part
// size until the RetryPolicy is exhausted.
type Uploader struct {
	factory     ClientFactory
	bucket      string
	policy      RetryPolicy
	defaultPart uint64
	tempDir     string
	log         *zap.Logger
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) UploaderOption {
	return func(u *Uploader) { u.policy = p }
}

// WithTempDir sets the directory used for staging files. Empty means os.TempDir().
func WithTempDir(dir string) UploaderOption {
	return func(u *Uploader) { u.tempDir = dir }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) UploaderOption {
	return func(u *Uploader) { u.log = log }
}

// WithDefaultPartSize sets the part size used by the buffer fast path.
func WithDefaultPartSize(n uint64) UploaderOption {
	return func(u *Uploader) { u.defaultPart = n }
}

// NewUploader returns an Uploader writing to bucket through clients built by factory.
func NewUploader(factory ClientFactory, bucket string, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		factory: factory,
		bucket:  bucket,
		policy:  DefaultRetryPolicy(),
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(u)
	}
	if u.defaultPart == 0 {
		u.defaultPart = u.policy.ChunkSize(1)
	}
	u.log = u.log.Named("uploader")
	return u
}

// Bucket returns the destination bucket.
func (u *Uploader) Bucket() string {
	return u.bucket
}

// Upload writes src under key and returns key on success. Unusable sources fail
// with ErrInvalidInput before any network call; exhausted retries fail with
// ErrUploadFailed wrapping the error of the last attempt.
func (u *Uploader) Upload(ctx context.Context, key string, src Source, meta Metadata) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("%w: invalid key %q", ErrInvalidInput, key)
	}

	switch s := src.(type) {
	case PathSource:
		if err := s.validate(); err != nil {
			return "", err
		}
		if err := u.uploadWithRetry(ctx, key, s, meta); err != nil {
			return "", err
		}
	case StreamSource:
		if s.Reader == nil {
			return "", fmt.Errorf("%w: stream has no reader", ErrInvalidInput)
		}
		if err := u.uploadStream(ctx, key, s, meta); err != nil {
			return "", err
		}
	case BufferSource:
		if s.Data == nil {
			return "", fmt.Errorf("%w: nil buffer", ErrInvalidInput)
		}
		if err := u.uploadBuffer(ctx, key, s, meta); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: unsupported source %T", ErrInvalidInput, src)
	}
	return key, nil
}

func (u *Uploader) uploadStream(ctx context.Context, key string, s StreamSource, meta Metadata) error {
	if rs, ok := s.Reader.(io.ReadSeeker); ok {
		stream, err := newSeekableStream(rs, s.Size)
		if err != nil {
			return err
		}
		return u.uploadWithRetry(ctx, key, stream, meta)
	}

	// A plain reader can only be read once; stage it so every attempt starts at byte 0.
	staged, cleanup, err := u.stage(s.Reader)
	if errors.Is(err, ErrInvalidInput) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	defer cleanup()
	return u.uploadWithRetry(ctx, key, staged, meta)
}

// uploadBuffer tries a direct put, then a put with an explicit size, then
// falls back to staging the buffer on disk and running the retry loop.
func (u *Uploader) uploadBuffer(ctx context.Context, key string, s BufferSource, meta Metadata) error {
	log := u.log.With(zap.String("key", key), zap.String("size", humanize.IBytes(uint64(len(s.Data)))))
	opts := meta.putOptions()

	client, err := u.factory(u.defaultPart)
	if err != nil {
		log.Warn("build client for direct put", zap.Error(err))
	} else {
		err = client.PutObject(ctx, u.bucket, key, bytes.NewReader(s.Data), -1, opts)
		u.recordAttempt(ctx, u.defaultPart, err, int64(len(s.Data)))
		if err == nil {
			log.Debug("buffer uploaded", zap.String("strategy", "direct"))
			return nil
		}
		log.Warn("direct put failed", zap.Error(err))

		err = client.PutObject(ctx, u.bucket, key, bytes.NewReader(s.Data), int64(len(s.Data)), opts)
		u.recordAttempt(ctx, u.defaultPart, err, int64(len(s.Data)))
		if err == nil {
			log.Debug("buffer uploaded", zap.String("strategy", "sized"))
			return nil
		}
		log.Warn("sized put failed", zap.Error(err))
	}

	staged, cleanup, err := u.stage(bytes.NewReader(s.Data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	defer cleanup()
	return u.uploadWithRetry(ctx, key, staged, meta)
}

func (u *Uploader) uploadWithRetry(ctx context.Context, key string, src Reopener, meta Metadata) error {
	log := u.log.With(zap.String("bucket", u.bucket), zap.String("key", key))
	delays := u.policy.newBackoff()
	attempts := u.policy.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, delays.NextBackOff()); err != nil {
				uploadFailures.Add(ctx, 1, u.bucketAttr())
				return fmt.Errorf("%w: interrupted after %d attempts: %w", ErrUploadFailed, attempt-1, lastErr)
			}
		}

		partSize := u.policy.ChunkSize(attempt)
		size, err := u.attempt(ctx, key, src, partSize, meta)
		u.recordAttempt(ctx, partSize, err, size)
		if err == nil {
			log.Info("object uploaded",
				zap.Int("attempt", attempt),
				zap.String("part_size", humanize.IBytes(partSize)),
				zap.String("size", humanize.IBytes(uint64(max(size, 0)))),
			)
			return nil
		}

		lastErr = err
		log.Warn("upload attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.String("part_size", humanize.IBytes(partSize)),
			zap.Error(err),
		)
	}

	uploadFailures.Add(ctx, 1, u.bucketAttr())
	return fmt.Errorf("%w after %d attempts: %w", ErrUploadFailed, attempts, lastErr)
}

func (u *Uploader) attempt(ctx context.Context, key string, src Reopener, partSize uint64, meta Metadata) (int64, error) {
	client, err := u.factory(partSize)
	if err != nil {
		return 0, fmt.Errorf("build client: %w", err)
	}
	r, size, err := src.Reopen()
	if err != nil {
		return 0, err
	}
	defer r.Close()

	return size, client.PutObject(ctx, u.bucket, key, r, size, meta.putOptions())
}

func (u *Uploader) recordAttempt(ctx context.Context, partSize uint64, err error, size int64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("bucket", u.bucket),
		attribute.String("outcome", outcome),
		attribute.Int64("part_size", int64(partSize)),
	)
	uploadAttempts.Add(ctx, 1, attrs)
	if err == nil && size > 0 {
		uploadBytes.Add(ctx, size, u.bucketAttr())
	}
}

func (u *Uploader) bucketAttr() metric.AddOption {
	return metric.WithAttributes(attribute.String("bucket", u.bucket))
}

// stage copies r into a temporary file. cleanup removes it and is safe to
// call more than once; on error nothing is left on disk. Failures reading r
// are reported as ErrInvalidInput, failures writing the file are not.
func (u *Uploader) stage(r io.Reader) (PathSource, func(), error) {
	f, err := os.CreateTemp(u.tempDir, "upload-*")
	if err != nil {
		return PathSource{}, nil, fmt.Errorf("create staging file: %w", err)
	}
	name := f.Name()
	cleanup := func() {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			u.log.Warn("remove staging file", zap.String("path", name), zap.Error(err))
		}
	}

	src := &payloadReader{r: r}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		cleanup()
		if src.err != nil {
			return PathSource{}, nil, fmt.Errorf("%w: read payload: %w", ErrInvalidInput, src.err)
		}
		return PathSource{}, nil, fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return PathSource{}, nil, fmt.Errorf("close staging file: %w", err)
	}
	return PathSource{Path: name}, cleanup, nil
}

// payloadReader remembers the first read error so stage can tell a broken
// source apart from a failing disk.
type payloadReader struct {
	r   io.Reader
	err error
}

func (p *payloadReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err != nil && err != io.EOF && p.err == nil {
		p.err = err
	}
	return n, err
}
