package media_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/despertar/media/internal/ledger"
	"github.com/despertar/media/internal/media"
	"github.com/despertar/media/internal/storage"
	"github.com/despertar/media/internal/storage/storagetest"
)

const bucket = "media"

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type fakeLedger struct {
	mu        sync.Mutex
	rows      map[string]ledger.Entry
	status    map[string]ledger.Status
	recordErr error
	queueErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[string]ledger.Entry), status: make(map[string]ledger.Status)}
}

func (f *fakeLedger) Record(ctx context.Context, e ledger.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.rows[e.Key] = e
	f.status[e.Key] = ledger.StatusActive
	return nil
}

func (f *fakeLedger) MarkPendingDelete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queueErr != nil {
		return f.queueErr
	}
	f.status[key] = ledger.StatusPendingDelete
	return nil
}

func (f *fakeLedger) MarkDeleted(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[key] = ledger.StatusDeleted
	return nil
}

func (f *fakeLedger) statusOf(key string) ledger.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[key]
}

type env struct {
	store  *storagetest.Store
	ledger *fakeLedger
	svc    *media.Service
}

func newEnv(t *testing.T, publicBase string) *env {
	t.Helper()
	store := storagetest.New(bucket)
	l := newFakeLedger()
	up := storage.NewUploader(store.Factory(), bucket,
		storage.WithTempDir(t.TempDir()),
		storage.WithRetryPolicy(storage.RetryPolicy{MaxAttempts: 3, ChunkSizes: storage.DefaultChunkSizes}),
	)
	svc := media.NewService(up, store.Client(), storage.NewURLBuilder(publicBase), l, nil)
	return &env{store: store, ledger: l, svc: svc}
}

func (e *env) read(t *testing.T, key string) []byte {
	t.Helper()
	rc, err := e.store.Client().GetObject(context.Background(), bucket, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// onlyReader hides Seek so the payload can be read exactly once.
type onlyReader struct{ io.Reader }

func TestStoreSniffsSeekablePayload(t *testing.T) {
	e := newEnv(t, "")
	payload := append(append([]byte(nil), pngHeader...), bytes.Repeat([]byte{7}, 5000)...)

	stored, err := e.svc.Store(context.Background(), storage.FolderProfile, "u1", media.File{
		Reader: bytes.NewReader(payload),
		Size:   int64(len(payload)),
		Name:   "Avatar.PNG",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stored.Key, "perfil/u1/"))
	assert.True(t, strings.HasSuffix(stored.Key, ".png"))
	assert.Equal(t, storage.ProxyPrefix+stored.Key, stored.URL)
	assert.Equal(t, "image/png", stored.ContentType)
	assert.Equal(t, int64(len(payload)), stored.Size)
	assert.Equal(t, payload, e.read(t, stored.Key))

	row := e.ledger.rows[stored.Key]
	assert.Equal(t, "perfil", row.Folder)
	assert.Equal(t, "u1", row.OwnerID)
	assert.Equal(t, "Avatar.PNG", row.OriginalName)

	puts := e.store.Puts()
	require.Len(t, puts, 1)
	assert.Equal(t, "Avatar.PNG", puts[0].Options.Metadata[storage.MetaOriginalName])
	assert.Equal(t, "image/png", puts[0].Options.ContentType)
}

func TestStoreSniffsOneShotReader(t *testing.T) {
	e := newEnv(t, "https://cdn.example.com/media")
	payload := []byte("dear diary, today I practised for twenty minutes")

	stored, err := e.svc.Store(context.Background(), storage.FolderJournal, "u2", media.File{
		Reader:      onlyReader{bytes.NewReader(payload)},
		Size:        -1,
		Name:        "entry.txt",
		ContentType: "application/octet-stream",
	})
	require.NoError(t, err)

	assert.Equal(t, "text/plain; charset=utf-8", stored.ContentType)
	assert.Equal(t, int64(len(payload)), stored.Size)
	assert.Equal(t, "https://cdn.example.com/media/"+stored.Key, stored.URL)
	assert.Equal(t, payload, e.read(t, stored.Key))
}

func TestStoreKeepsDeclaredType(t *testing.T) {
	e := newEnv(t, "")
	stored, err := e.svc.Store(context.Background(), storage.FolderPractices, "u1", media.File{
		Reader:      bytes.NewReader([]byte("not really audio")),
		Size:        16,
		Name:        "take1.mp3",
		ContentType: "audio/mpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", stored.ContentType)
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.svc.Store(context.Background(), storage.FolderProfile, "u1", media.File{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = e.svc.Store(context.Background(), storage.FolderProfile, "../x", media.File{Reader: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Empty(t, e.store.Puts())
}

func TestStoreRemovesObjectWhenLedgerFails(t *testing.T) {
	e := newEnv(t, "")
	e.ledger.recordErr = errors.New("database is down")

	_, err := e.svc.Store(context.Background(), storage.FolderProfile, "u1", media.File{
		Reader: bytes.NewReader(pngHeader), Size: int64(len(pngHeader)), Name: "a.png",
	})
	require.Error(t, err)
	assert.Empty(t, e.store.Keys(bucket))
	assert.Len(t, e.store.Removes(), 1)
}

func TestStoreSurfacesUploadFailure(t *testing.T) {
	e := newEnv(t, "")
	e.store.PutHook = func(storagetest.PutCall) error { return errors.New("503 SlowDown") }

	_, err := e.svc.Store(context.Background(), storage.FolderProfile, "u1", media.File{
		Reader: bytes.NewReader(pngHeader), Size: int64(len(pngHeader)), Name: "a.png",
	})
	require.ErrorIs(t, err, storage.ErrUploadFailed)
	assert.Empty(t, e.ledger.rows)
}

func TestReplace(t *testing.T) {
	t.Run("old object discarded after new one is stored", func(t *testing.T) {
		e := newEnv(t, "")
		old := "perfil/u1/1-old.png"
		e.store.Seed(bucket, old, []byte("old"), "image/png")

		stored, err := e.svc.Replace(context.Background(), storage.ProxyPrefix+old, storage.FolderProfile, "u1", media.File{
			Reader: bytes.NewReader(pngHeader), Size: int64(len(pngHeader)), Name: "new.png",
		})
		require.NoError(t, err)
		assert.False(t, e.store.Has(bucket, old))
		assert.True(t, e.store.Has(bucket, stored.Key))
		assert.Equal(t, ledger.StatusDeleted, e.ledger.statusOf(old))
	})

	t.Run("failed upload keeps old object", func(t *testing.T) {
		e := newEnv(t, "")
		old := "perfil/u1/1-old.png"
		e.store.Seed(bucket, old, []byte("old"), "image/png")
		e.store.PutHook = func(storagetest.PutCall) error { return errors.New("connection reset") }

		_, err := e.svc.Replace(context.Background(), old, storage.FolderProfile, "u1", media.File{
			Reader: bytes.NewReader(pngHeader), Size: int64(len(pngHeader)), Name: "new.png",
		})
		require.ErrorIs(t, err, storage.ErrUploadFailed)
		assert.True(t, e.store.Has(bucket, old))
		assert.Empty(t, e.store.Removes())
	})

	t.Run("failed discard does not fail the replace", func(t *testing.T) {
		e := newEnv(t, "")
		old := "perfil/u1/1-old.png"
		e.store.Seed(bucket, old, []byte("old"), "image/png")
		e.store.RemoveHook = func(_, key string) error { return errors.New("access denied") }

		stored, err := e.svc.Replace(context.Background(), old, storage.FolderProfile, "u1", media.File{
			Reader: bytes.NewReader(pngHeader), Size: int64(len(pngHeader)), Name: "new.png",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, stored.Key)
		assert.Equal(t, ledger.StatusPendingDelete, e.ledger.statusOf(old))
	})
}

func TestDiscardIgnoresForeignReferences(t *testing.T) {
	e := newEnv(t, "")
	e.svc.Discard(context.Background(), "https://elsewhere.example.com/a.png")
	e.svc.Discard(context.Background(), "")
	assert.Empty(t, e.store.Removes())
}

func TestDiscardLogsWhetherRemovalWasQueued(t *testing.T) {
	tests := []struct {
		name     string
		queueErr error
		wantMsg  string
		want     ledger.Status
	}{
		{"queued", nil, "discard failed, queued for sweep", ledger.StatusPendingDelete},
		{"ledger down", errors.New("connection refused"), "discard failed, not queued", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			store := storagetest.New(bucket)
			store.RemoveHook = func(string, string) error { return errors.New("access denied") }
			l := newFakeLedger()
			l.queueErr = tc.queueErr
			up := storage.NewUploader(store.Factory(), bucket, storage.WithTempDir(t.TempDir()))
			svc := media.NewService(up, store.Client(), storage.NewURLBuilder(""), l, zap.New(core))

			key := "perfil/u1/1-a.png"
			svc.Discard(context.Background(), key)

			warnings := logs.FilterMessage(tc.wantMsg)
			require.Equal(t, 1, warnings.Len(), "logged: %v", logs.All())
			assert.Equal(t, key, warnings.All()[0].ContextMap()["key"])
			assert.Equal(t, tc.want, l.statusOf(key))
		})
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	e := newEnv(t, "")
	key := "diario/u1/1-a.pdf"
	e.store.Seed(bucket, key, []byte("%PDF"), "application/pdf")

	require.NoError(t, e.svc.Remove(context.Background(), key))
	require.NoError(t, e.svc.Remove(context.Background(), key))
	assert.False(t, e.store.Has(bucket, key))
	assert.Equal(t, ledger.StatusDeleted, e.ledger.statusOf(key))

	assert.ErrorIs(t, e.svc.Remove(context.Background(), "../etc/passwd"), storage.ErrInvalidInput)
}
