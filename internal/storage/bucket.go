package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PublicPrefix is the only key prefix readable without credentials.
const PublicPrefix = "public/"

// SelfTestPrefix holds the disposable objects written by the start-up check.
const SelfTestPrefix = "_test_/"

// BucketState is how far the start-up check got.
type BucketState int

const (
	StateUnchecked BucketState = iota
	StateConnectivityVerified
	StateBucketEnsured
	StatePolicyAttempted
	StateSelfTested
)

func (s BucketState) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateConnectivityVerified:
		return "connectivity_verified"
	case StateBucketEnsured:
		return "bucket_ensured"
	case StatePolicyAttempted:
		return "policy_attempted"
	case StateSelfTested:
		return "self_tested"
	default:
		return "unknown"
	}
}

// Report is the outcome of BucketManager.Ensure.
type Report struct {
	State         BucketState
	Created       bool
	PolicyApplied bool
	// PolicyErr is set when the policy could not be applied; it does not stop the check.
	PolicyErr error
	// Err is the failure that stopped the check, if any.
	Err error
}

// OK reports whether every step completed.
func (r Report) OK() bool {
	return r.State == StateSelfTested && r.Err == nil
}

// BucketManager makes sure the media bucket exists and is usable.
type BucketManager struct {
	client Client
	bucket string
	region string
	log    *zap.Logger
	now    func() time.Time
}

// NewBucketManager returns a manager for bucket in region.
func NewBucketManager(client Client, bucket, region string, log *zap.Logger) *BucketManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &BucketManager{
		client: client,
		bucket: bucket,
		region: region,
		log:    log.Named("bucket"),
		now:    time.Now,
	}
}

// Ensure runs connectivity, existence, policy and self-test steps in order.
// A failing step stops the sequence without undoing earlier steps.
func (m *BucketManager) Ensure(ctx context.Context) Report {
	log := m.log.With(zap.String("bucket", m.bucket))
	var rep Report

	if _, err := m.client.ListBuckets(ctx); err != nil {
		rep.Err = fmt.Errorf("%w: %w", ErrConnectivity, err)
		log.Error("object store connectivity check failed", zap.Error(err))
		return rep
	}
	rep.State = StateConnectivityVerified

	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		rep.Err = err
		log.Error("bucket existence check failed", zap.Error(err))
		return rep
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, m.region); err != nil {
			rep.Err = err
			log.Error("bucket creation failed", zap.String("region", m.region), zap.Error(err))
			return rep
		}
		rep.Created = true
		log.Info("created bucket", zap.String("region", m.region))
	}
	rep.State = StateBucketEnsured

	if err := m.client.SetBucketPolicy(ctx, m.bucket, PublicReadPolicy(m.bucket)); err != nil {
		rep.PolicyErr = fmt.Errorf("%w: %w", ErrPolicy, err)
		log.Warn("public-read policy not applied; public URLs will not work", zap.Error(err))
	} else {
		rep.PolicyApplied = true
	}
	rep.State = StatePolicyAttempted

	if err := m.selfTest(ctx); err != nil {
		rep.Err = err
		log.Error("bucket self-test failed", zap.Error(err))
		return rep
	}
	rep.State = StateSelfTested

	log.Info("bucket ready", zap.Bool("created", rep.Created), zap.Bool("policy_applied", rep.PolicyApplied))
	return rep
}

func (m *BucketManager) selfTest(ctx context.Context) error {
	key := fmt.Sprintf("%s%d.txt", SelfTestPrefix, m.now().UnixMilli())
	body := []byte("ok")
	if err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), PutOptions{ContentType: "text/plain"}); err != nil {
		return fmt.Errorf("write test object: %w", err)
	}
	if err := m.client.RemoveObject(ctx, m.bucket, key); err != nil {
		return fmt.Errorf("remove test object: %w", err)
	}
	return nil
}

// PublicReadPolicy returns an S3 bucket policy allowing anonymous GET on
// objects under PublicPrefix only.
func PublicReadPolicy(bucket string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": map[string]interface{}{"AWS": []string{"*"}},
				"Action":    []string{"s3:GetObject"},
				"Resource":  []string{fmt.Sprintf("arn:aws:s3:::%s/%s*", bucket, PublicPrefix)},
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
