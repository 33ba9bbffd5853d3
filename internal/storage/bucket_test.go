package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/despertar/media/internal/storage"
	"github.com/despertar/media/internal/storage/storagetest"
)

func TestBucketManagerEnsure(t *testing.T) {
	t.Run("creates bucket and applies policy", func(t *testing.T) {
		store := storagetest.New()
		m := storage.NewBucketManager(store.Client(), bucket, "us-east-1", nil)

		rep := m.Ensure(context.Background())
		require.True(t, rep.OK(), "report: %+v", rep)
		assert.Equal(t, storage.StateSelfTested, rep.State)
		assert.True(t, rep.Created)
		assert.True(t, rep.PolicyApplied)
		assert.True(t, store.BucketExistsNow(bucket))
		assert.Equal(t, storage.PublicReadPolicy(bucket), store.Policy(bucket))
		assert.Empty(t, store.Keys(bucket), "self-test object must be removed")

		removes := store.Removes()
		require.Len(t, removes, 1)
		assert.Regexp(t, `^_test_/\d+\.txt$`, removes[0])
	})

	t.Run("existing bucket is not recreated", func(t *testing.T) {
		store := storagetest.New(bucket)
		store.MakeBucketHook = func(string) error { return errors.New("should not be called") }

		rep := storage.NewBucketManager(store.Client(), bucket, "", nil).Ensure(context.Background())
		assert.True(t, rep.OK())
		assert.False(t, rep.Created)
	})

	t.Run("connectivity failure stops everything", func(t *testing.T) {
		store := storagetest.New()
		store.ListBucketsHook = func() error { return errors.New("dial tcp: connection refused") }

		rep := storage.NewBucketManager(store.Client(), bucket, "", nil).Ensure(context.Background())
		assert.False(t, rep.OK())
		assert.Equal(t, storage.StateUnchecked, rep.State)
		assert.ErrorIs(t, rep.Err, storage.ErrConnectivity)
		assert.False(t, store.BucketExistsNow(bucket))
	})

	t.Run("bucket creation failure", func(t *testing.T) {
		store := storagetest.New()
		store.MakeBucketHook = func(string) error { return errors.New("BucketAlreadyOwnedByYou") }

		rep := storage.NewBucketManager(store.Client(), bucket, "", nil).Ensure(context.Background())
		assert.False(t, rep.OK())
		assert.Equal(t, storage.StateConnectivityVerified, rep.State)
	})

	t.Run("policy failure is only a warning", func(t *testing.T) {
		store := storagetest.New(bucket)
		store.PolicyHook = func(string) error { return errors.New("NotImplemented") }

		rep := storage.NewBucketManager(store.Client(), bucket, "", nil).Ensure(context.Background())
		assert.True(t, rep.OK())
		assert.False(t, rep.PolicyApplied)
		assert.ErrorIs(t, rep.PolicyErr, storage.ErrPolicy)
		assert.Equal(t, storage.StateSelfTested, rep.State)
	})

	t.Run("self-test failure keeps earlier progress", func(t *testing.T) {
		store := storagetest.New(bucket)
		store.PutHook = func(storagetest.PutCall) error { return errors.New("AccessDenied") }

		rep := storage.NewBucketManager(store.Client(), bucket, "", nil).Ensure(context.Background())
		assert.False(t, rep.OK())
		assert.Equal(t, storage.StatePolicyAttempted, rep.State)
		assert.True(t, rep.PolicyApplied)
		assert.True(t, store.BucketExistsNow(bucket))
	})
}

func TestPublicReadPolicyScopedToPublicPrefix(t *testing.T) {
	var doc struct {
		Statement []struct {
			Effect   string
			Action   []string
			Resource []string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(storage.PublicReadPolicy("media")), &doc))
	require.Len(t, doc.Statement, 1)
	assert.Equal(t, "Allow", doc.Statement[0].Effect)
	assert.Equal(t, []string{"s3:GetObject"}, doc.Statement[0].Action)
	assert.Equal(t, []string{"arn:aws:s3:::media/public/*"}, doc.Statement[0].Resource)
}

func TestBucketStateString(t *testing.T) {
	assert.Equal(t, "unchecked", storage.StateUnchecked.String())
	assert.Equal(t, "self_tested", storage.StateSelfTested.String())
	assert.Equal(t, "unknown", storage.BucketState(42).String())
}
