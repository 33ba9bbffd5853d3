// Package ledger records which stored objects are referenced so that orphans
// left behind by failed workflows can be swept.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status of a ledger row.
type Status string

const (
	StatusActive        Status = "active"
	StatusPendingDelete Status = "pending_delete"
	StatusDeleted       Status = "deleted"
)

// Entry is one stored object as recorded in the ledger.
type Entry struct {
	Key          string     `json:"key"`
	Bucket       string     `json:"bucket"`
	Folder       string     `json:"folder"`
	OwnerID      string     `json:"ownerId"`
	ContentType  string     `json:"contentType"`
	Size         int64      `json:"size"`
	OriginalName string     `json:"originalName"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

// ErrNotFound is returned when a key has no ledger row.
var ErrNotFound = errors.New("ledger entry not found")

// Repository handles all ledger database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Record inserts e as active. Recording an existing key reactivates it.
func (r *Repository) Record(ctx context.Context, e Entry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO stored_objects (key, bucket, folder, owner_id, content_type, size, original_name, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'active')
		 ON CONFLICT (key) DO UPDATE
		 SET content_type = EXCLUDED.content_type,
		     size = EXCLUDED.size,
		     original_name = EXCLUDED.original_name,
		     status = 'active',
		     deleted_at = NULL`,
		e.Key, e.Bucket, e.Folder, e.OwnerID, e.ContentType, e.Size, e.OriginalName,
	)
	if err != nil {
		return fmt.Errorf("record object: %w", err)
	}
	return nil
}

// Get fetches the row for key.
func (r *Repository) Get(ctx context.Context, key string) (*Entry, error) {
	e := &Entry{}
	err := r.db.QueryRow(ctx,
		`SELECT key, bucket, folder, owner_id, content_type, size, original_name, status, created_at, deleted_at
		 FROM stored_objects WHERE key = $1`,
		key,
	).Scan(&e.Key, &e.Bucket, &e.Folder, &e.OwnerID, &e.ContentType, &e.Size, &e.OriginalName, &e.Status, &e.CreatedAt, &e.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return e, nil
}

// MarkPendingDelete flags key for removal by the next sweep.
func (r *Repository) MarkPendingDelete(ctx context.Context, key string) error {
	return r.setStatus(ctx, key, StatusPendingDelete)
}

// MarkDeleted records that key is gone from the store. Unknown keys are ignored.
func (r *Repository) MarkDeleted(ctx context.Context, key string) error {
	return r.setStatus(ctx, key, StatusDeleted)
}

func (r *Repository) setStatus(ctx context.Context, key string, status Status) error {
	_, err := r.db.Exec(ctx,
		`UPDATE stored_objects
		 SET status = $2,
		     deleted_at = CASE WHEN $2 = 'deleted' THEN NOW() ELSE deleted_at END
		 WHERE key = $1`,
		key, string(status),
	)
	if err != nil {
		return fmt.Errorf("mark object %s: %w", status, err)
	}
	return nil
}

// PendingDeletes returns up to limit keys waiting for removal, oldest first.
func (r *Repository) PendingDeletes(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT key FROM stored_objects
		 WHERE status = 'pending_delete'
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending deletes: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan pending deletes: %w", err)
	}
	return keys, nil
}

// Statuses returns the status of each key that has a row. Keys the ledger
// has never seen are absent from the result.
func (r *Repository) Statuses(ctx context.Context, keys []string) (map[string]Status, error) {
	statuses := make(map[string]Status, len(keys))
	if len(keys) == 0 {
		return statuses, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT key, status FROM stored_objects WHERE key = ANY($1)`,
		keys,
	)
	if err != nil {
		return nil, fmt.Errorf("query object statuses: %w", err)
	}
	type keyStatus struct {
		Key    string
		Status Status
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[keyStatus])
	if err != nil {
		return nil, fmt.Errorf("scan object statuses: %w", err)
	}
	for _, ks := range found {
		statuses[ks.Key] = ks.Status
	}
	return statuses, nil
}
