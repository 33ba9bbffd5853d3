// Package media is the entry point other features use to persist, replace and
// discard binary attachments.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/despertar/media/internal/ledger"
	"github.com/despertar/media/internal/storage"
)

// sniffLen is how much of a payload is inspected to detect its type.
const sniffLen = 3072

// File is an incoming attachment.
type File struct {
	Reader      io.Reader
	Size        int64 // -1 when unknown
	Name        string
	ContentType string // as declared by the client; may be empty
}

// Stored describes a persisted attachment.
type Stored struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// Ledger records stored objects. A nil Ledger passed to NewService disables recording.
type Ledger interface {
	Record(ctx context.Context, e ledger.Entry) error
	MarkPendingDelete(ctx context.Context, key string) error
	MarkDeleted(ctx context.Context, key string) error
}

type nopLedger struct{}

func (nopLedger) Record(context.Context, ledger.Entry) error      { return nil }
func (nopLedger) MarkPendingDelete(context.Context, string) error { return nil }
func (nopLedger) MarkDeleted(context.Context, string) error       { return nil }

// Service contains the attachment workflows.
type Service struct {
	uploader *storage.Uploader
	client   storage.Client
	remover  *storage.Remover
	urls     storage.URLBuilder
	ledger   Ledger
	log      *zap.Logger
}

// NewService creates a media Service. client is used for metadata lookups
// and removals; uploads go through uploader.
func NewService(uploader *storage.Uploader, client storage.Client, urls storage.URLBuilder, l Ledger, log *zap.Logger) *Service {
	if l == nil {
		l = nopLedger{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("media")
	return &Service{
		uploader: uploader,
		client:   client,
		remover:  storage.NewRemover(client, uploader.Bucket(), log),
		urls:     urls,
		ledger:   l,
		log:      log,
	}
}

// URLs returns the builder used for stored URLs.
func (s *Service) URLs() storage.URLBuilder {
	return s.urls
}

// Store uploads f under a fresh key in folder for ownerID. If the ledger
// cannot record the object it is removed again and the call fails.
func (s *Service) Store(ctx context.Context, folder storage.Folder, ownerID string, f File) (*Stored, error) {
	if f.Reader == nil {
		return nil, fmt.Errorf("%w: empty file", storage.ErrInvalidInput)
	}
	key, err := storage.NewKey(folder, ownerID, f.Name)
	if err != nil {
		return nil, err
	}

	body, contentType, err := detectContentType(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %w", storage.ErrInvalidInput, err)
	}

	meta := storage.Metadata{ContentType: contentType, OriginalName: f.Name, Owner: ownerID}
	if _, err := s.uploader.Upload(ctx, key, storage.StreamSource{Reader: body, Size: f.Size}, meta); err != nil {
		return nil, err
	}

	size := f.Size
	if size < 0 {
		if info, err := s.client.StatObject(ctx, s.uploader.Bucket(), key); err == nil {
			size = info.Size
		}
	}

	entry := ledger.Entry{
		Key:          key,
		Bucket:       s.uploader.Bucket(),
		Folder:       string(folder),
		OwnerID:      ownerID,
		ContentType:  contentType,
		Size:         size,
		OriginalName: f.Name,
	}
	if err := s.ledger.Record(ctx, entry); err != nil {
		if rmErr := s.remover.Remove(ctx, key); rmErr != nil {
			s.log.Warn("remove unrecorded object", zap.String("key", key), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("record %s: %w", key, err)
	}

	s.log.Info("stored",
		zap.String("key", key),
		zap.String("owner", ownerID),
		zap.String("content_type", contentType),
		zap.Int64("size", size),
	)
	return &Stored{Key: key, URL: s.urls.PublicURL(key), Size: size, ContentType: contentType}, nil
}

// Replace stores f and then discards oldRef (a key or a URL produced by
// PublicURL). When the upload fails oldRef is left untouched.
func (s *Service) Replace(ctx context.Context, oldRef string, folder storage.Folder, ownerID string, f File) (*Stored, error) {
	stored, err := s.Store(ctx, folder, ownerID, f)
	if err != nil {
		return nil, err
	}
	if oldRef != "" {
		s.Discard(ctx, oldRef)
	}
	return stored, nil
}

// Discard removes ref on a best-effort basis. Failures are logged and left
// for the sweeper; they never reach the caller.
func (s *Service) Discard(ctx context.Context, ref string) {
	key, ok := s.urls.KeyFromURL(ref)
	if !ok {
		s.log.Warn("discard: not a stored object", zap.String("ref", ref))
		return
	}
	queued, err := s.remove(ctx, key)
	switch {
	case err == nil:
	case queued:
		s.log.Warn("discard failed, queued for sweep", zap.String("key", key), zap.Error(err))
	default:
		s.log.Warn("discard failed, not queued", zap.String("key", key), zap.Error(err))
	}
}

// Remove deletes key and reports failures. A key that is already gone counts
// as removed. Failed removals are queued for the sweeper.
func (s *Service) Remove(ctx context.Context, key string) error {
	_, err := s.remove(ctx, key)
	return err
}

// remove reports whether a failed removal was queued in the ledger.
func (s *Service) remove(ctx context.Context, key string) (queued bool, err error) {
	if err := s.remover.Remove(ctx, key); err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			return false, err
		}
		if mErr := s.ledger.MarkPendingDelete(ctx, key); mErr != nil {
			s.log.Error("queue removal", zap.String("key", key), zap.Error(mErr))
			return false, fmt.Errorf("remove %s: %w", key, err)
		}
		return true, fmt.Errorf("remove %s: %w", key, err)
	}
	if err := s.ledger.MarkDeleted(ctx, key); err != nil {
		s.log.Warn("mark deleted", zap.String("key", key), zap.Error(err))
	}
	return false, nil
}

// detectContentType keeps a specific client-declared type and otherwise
// sniffs the first bytes of the payload. The returned reader yields the
// complete payload; seekable readers are rewound and returned as is.
func detectContentType(f File) (io.Reader, string, error) {
	if declared := declaredType(f.ContentType); declared != "" {
		return f.Reader, declared, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Reader, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	head = head[:n]
	detected := mimetype.Detect(head).String()

	if rs, ok := f.Reader.(io.ReadSeeker); ok {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, "", err
		}
		return rs, detected, nil
	}
	return io.MultiReader(bytes.NewReader(head), f.Reader), detected, nil
}

func declaredType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || mt == "application/octet-stream" || mt == "binary/octet-stream" {
		return ""
	}
	return ct
}
