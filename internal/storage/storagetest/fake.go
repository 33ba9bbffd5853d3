// Package storagetest provides an in-memory storage.Client for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/despertar/media/internal/storage"
)

// PutCall records one PutObject invocation.
type PutCall struct {
	Bucket   string
	Key      string
	PartSize uint64
	Size     int64
	Data     []byte
	Options  storage.PutOptions
}

type object struct {
	data     []byte
	opts     storage.PutOptions
	modified time.Time
}

// Store is a fake object store. The exported hooks let tests inject failures;
// a hook returning a non-nil error makes the corresponding call fail.
type Store struct {
	mu       sync.Mutex
	buckets  map[string]map[string]*object
	policies map[string]string
	puts     []PutCall
	removes  []string

	Now func() time.Time

	PutHook         func(PutCall) error
	GetHook         func(bucket, key string) error
	WrapGet         func(io.Reader) io.Reader
	StatHook        func(bucket, key string) error
	RemoveHook      func(bucket, key string) error
	PolicyHook      func(bucket string) error
	MakeBucketHook  func(bucket string) error
	ListBucketsHook func() error
}

// New returns an empty store holding the given buckets.
func New(buckets ...string) *Store {
	s := &Store{
		buckets:  make(map[string]map[string]*object),
		policies: make(map[string]string),
		Now:      time.Now,
	}
	for _, b := range buckets {
		s.buckets[b] = make(map[string]*object)
	}
	return s
}

// Client returns a client with the driver default part size.
func (s *Store) Client() storage.Client {
	return &client{store: s}
}

// Factory returns a storage.ClientFactory whose clients record their part size.
func (s *Store) Factory() storage.ClientFactory {
	return func(partSize uint64) (storage.Client, error) {
		return &client{store: s, partSize: partSize}, nil
	}
}

// Seed stores data under key without going through PutObject.
func (s *Store) Seed(bucket, key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]*object)
	}
	s.buckets[bucket][key] = &object{
		data:     append([]byte(nil), data...),
		opts:     storage.PutOptions{ContentType: contentType},
		modified: s.Now(),
	}
}

// SeedAt is Seed with an explicit modification time.
func (s *Store) SeedAt(bucket, key string, data []byte, modified time.Time) {
	s.Seed(bucket, key, data, "")
	s.mu.Lock()
	s.buckets[bucket][key].modified = modified
	s.mu.Unlock()
}

// Puts returns every recorded PutObject call, failed ones included.
func (s *Store) Puts() []PutCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.puts)
}

// Removes returns every key passed to RemoveObject.
func (s *Store) Removes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.removes)
}

// Has reports whether key is stored in bucket.
func (s *Store) Has(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[bucket][key]
	return ok
}

// Keys returns the sorted keys of bucket.
func (s *Store) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.buckets[bucket]))
}

// Policy returns the policy set on bucket.
func (s *Store) Policy(bucket string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policies[bucket]
}

// BucketExistsNow reports whether the bucket exists without going through a client.
func (s *Store) BucketExistsNow(bucket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[bucket]
	return ok
}

func notFound(bucket, key string) error {
	return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, bucket, key)
}

type client struct {
	store    *Store
	partSize uint64
}

func (c *client) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts storage.PutOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	call := PutCall{Bucket: bucket, Key: key, PartSize: c.partSize, Size: size, Data: data, Options: opts}

	s := c.store
	s.mu.Lock()
	s.puts = append(s.puts, call)
	hook := s.PutHook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(call); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	objs, ok := s.buckets[bucket]
	if !ok {
		return notFound(bucket, "")
	}
	objs[key] = &object{data: data, opts: opts, modified: s.Now()}
	return nil
}

func (c *client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	s := c.store
	if s.GetHook != nil {
		if err := s.GetHook(bucket, key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, notFound(bucket, key)
	}
	var r io.Reader = bytes.NewReader(obj.data)
	if s.WrapGet != nil {
		r = s.WrapGet(r)
	}
	return io.NopCloser(r), nil
}

func (c *client) StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	s := c.store
	if s.StatHook != nil {
		if err := s.StatHook(bucket, key); err != nil {
			return storage.ObjectInfo{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return storage.ObjectInfo{}, notFound(bucket, key)
	}
	return info(key, obj), nil
}

func info(key string, obj *object) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.opts.ContentType,
		Metadata:     maps.Clone(obj.opts.Metadata),
		LastModified: obj.modified,
	}
}

func (c *client) RemoveObject(ctx context.Context, bucket, key string) error {
	s := c.store
	s.mu.Lock()
	s.removes = append(s.removes, key)
	hook := s.RemoveHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(bucket, key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
	return nil
}

func (c *client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return c.store.BucketExistsNow(bucket), nil
}

func (c *client) MakeBucket(ctx context.Context, bucket, region string) error {
	s := c.store
	if s.MakeBucketHook != nil {
		if err := s.MakeBucketHook(bucket); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]*object)
	}
	return nil
}

func (c *client) SetBucketPolicy(ctx context.Context, bucket, policy string) error {
	s := c.store
	if s.PolicyHook != nil {
		if err := s.PolicyHook(bucket); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[bucket] = policy
	return nil
}

func (c *client) PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://store.test/%s/%s?X-Amz-Expires=%d", bucket, key, int(ttl.Seconds())), nil
}

func (c *client) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[storage.ObjectInfo, error] {
	s := c.store
	s.mu.Lock()
	var infos []storage.ObjectInfo
	for _, key := range slices.Sorted(maps.Keys(s.buckets[bucket])) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !recursive && strings.Contains(strings.TrimPrefix(key, prefix), "/") {
			continue
		}
		infos = append(infos, info(key, s.buckets[bucket][key]))
	}
	s.mu.Unlock()

	return func(yield func(storage.ObjectInfo, error) bool) {
		for _, i := range infos {
			if !yield(i, nil) {
				return
			}
		}
	}
}

func (c *client) ListBuckets(ctx context.Context) ([]string, error) {
	s := c.store
	if s.ListBucketsHook != nil {
		if err := s.ListBucketsHook(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.buckets)), nil
}
