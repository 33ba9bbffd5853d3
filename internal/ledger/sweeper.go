package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/despertar/media/internal/storage"
)

// Index is the part of the ledger the sweeper reads and updates.
type Index interface {
	PendingDeletes(ctx context.Context, limit int) ([]string, error)
	Statuses(ctx context.Context, keys []string) (map[string]Status, error)
	MarkDeleted(ctx context.Context, key string) error
}

const (
	pendingBatch = 500
	lookupBatch  = 500
)

// SweepResult summarizes one pass.
type SweepResult struct {
	Retried   int // pending_delete rows whose object was removed
	Scanned   int // objects listed from the bucket
	Orphans   int // retired objects removed
	Skipped   int // objects newer than the grace period
	Untracked int // objects with no ledger row, always kept
	Failures  int
}

// Sweeper removes objects the ledger has retired. Objects without a ledger
// row were written outside the media service and are never touched.
type Sweeper struct {
	client  storage.Client
	remover *storage.Remover
	bucket  string
	index   Index
	grace   time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewSweeper returns a Sweeper for bucket. Objects younger than grace are
// never treated as orphans so in-flight uploads are not raced.
func NewSweeper(client storage.Client, bucket string, index Index, grace time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("sweeper")
	return &Sweeper{
		client:  client,
		remover: storage.NewRemover(client, bucket, log),
		bucket:  bucket,
		index:   index,
		grace:   grace,
		now:     time.Now,
		log:     log,
	}
}

// Sweep runs one pass. It retries removals queued as pending_delete, then
// removes listed objects older than the grace period whose row is no longer
// active. Keys under the public and self-test prefixes are skipped.
// Individual failures do not stop the pass; they are returned together.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var errs *multierror.Error

	pending, err := s.index.PendingDeletes(ctx, pendingBatch)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, key := range pending {
		if err := s.removeAndMark(ctx, key); err != nil {
			res.Failures++
			errs = multierror.Append(errs, err)
			continue
		}
		res.Retried++
	}

	cutoff := s.now().Add(-s.grace)
	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, untracked, failed, err := s.removeOrphans(ctx, batch)
		res.Orphans += n
		res.Untracked += untracked
		res.Failures += failed
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		batch = batch[:0]
	}

	for obj, err := range s.client.ListObjects(ctx, s.bucket, "", true) {
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("list %s: %w", s.bucket, err))
			break
		}
		if strings.HasPrefix(obj.Key, storage.SelfTestPrefix) || strings.HasPrefix(obj.Key, storage.PublicPrefix) {
			continue
		}
		res.Scanned++
		if obj.LastModified.After(cutoff) {
			res.Skipped++
			continue
		}
		batch = append(batch, obj.Key)
		if len(batch) == lookupBatch {
			flush()
		}
	}
	flush()

	s.log.Info("sweep finished",
		zap.String("bucket", s.bucket),
		zap.Int("retried", res.Retried),
		zap.Int("scanned", res.Scanned),
		zap.Int("orphans", res.Orphans),
		zap.Int("skipped", res.Skipped),
		zap.Int("untracked", res.Untracked),
		zap.Int("failures", res.Failures),
	)
	return res, errs.ErrorOrNil()
}

func (s *Sweeper) removeOrphans(ctx context.Context, keys []string) (removed, untracked, failed int, err error) {
	statuses, err := s.index.Statuses(ctx, keys)
	if err != nil {
		return 0, 0, 0, err
	}
	var errs *multierror.Error
	for _, key := range keys {
		status, known := statuses[key]
		if !known {
			untracked++
			continue
		}
		if status == StatusActive {
			continue
		}
		if err := s.removeAndMark(ctx, key); err != nil {
			failed++
			errs = multierror.Append(errs, err)
			continue
		}
		s.log.Debug("orphan removed", zap.String("key", key))
		removed++
	}
	return removed, untracked, failed, errs.ErrorOrNil()
}

func (s *Sweeper) removeAndMark(ctx context.Context, key string) error {
	if err := s.remover.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	if err := s.index.MarkDeleted(ctx, key); err != nil {
		return fmt.Errorf("mark %s deleted: %w", key, err)
	}
	return nil
}

// Start schedules Sweep on spec (standard cron syntax or descriptors such as
// "@every 6h"). The returned func stops the schedule and waits for a running
// pass to finish.
func (s *Sweeper) Start(spec string, timeout time.Duration) (stop func(), err error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err = c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Warn("sweep completed with errors", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	c.Start()
	s.log.Info("sweeper scheduled", zap.String("schedule", spec), zap.Duration("grace", s.grace))
	return func() { <-c.Stop().Done() }, nil
}
