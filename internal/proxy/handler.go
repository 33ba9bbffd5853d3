// Package proxy serves stored media back to browsers through the API host.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/despertar/media/internal/response"
	"github.com/despertar/media/internal/storage"
)

// CORSOptions allows any origin to read media, and nothing else.
var CORSOptions = cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{http.MethodGet, http.MethodHead},
	AllowedHeaders: []string{"Range", "If-Modified-Since", "If-None-Match"},
	ExposedHeaders: []string{"Content-Length", "Content-Range", "Accept-Ranges"},
	MaxAge:         86400,
}

// AudioFallback is returned when an audio object is missing; the player
// switches to its degraded mode when it sees Fallback set.
type AudioFallback struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Fallback bool   `json:"fallback"`
	Key      string `json:"key"`
}

// PresignedURL is the body of the presign endpoint.
type PresignedURL struct {
	Success   bool   `json:"success"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expiresIn"`
}

// Handler holds the retrieval proxy endpoints.
type Handler struct {
	client      storage.Client
	bucket      string
	tempDir     string
	placeholder string
	log         *zap.Logger
}

// Options configures a Handler.
type Options struct {
	// TempDir holds staging files. Empty means os.TempDir().
	TempDir string
	// Placeholder is a local file served when an object cannot be delivered.
	Placeholder string
}

// NewHandler creates a proxy Handler for bucket.
func NewHandler(client storage.Client, bucket string, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		client:      client,
		bucket:      bucket,
		tempDir:     opts.TempDir,
		placeholder: opts.Placeholder,
		log:         log.Named("proxy"),
	}
}

// Routes mounts the proxy under ProxyPrefix-style paths: GET|HEAD /*.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(CORSOptions))
	r.Get("/*", h.Serve)
	r.Head("/*", h.Serve)
	return r
}

// Serve godoc
//
//	@Summary		Stream a stored object
//	@Description	Streams the object stored under the given key. Missing audio answers with a fallback hint.
//	@Tags			media
//	@Produce		octet-stream
//	@Param			key	path		string	true	"Object key"
//	@Success		200	{file}		binary
//	@Failure		404	{object}	AudioFallback
//	@Failure		500	{object}	response.Envelope
//	@Router			/api/proxy/minio/{key} [get]
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "*")
	log := h.log.With(zap.String("key", key), zap.String("request_id", middleware.GetReqID(ctx)))

	if !storage.ValidKey(key) {
		response.BadRequest(w, "invalid object key")
		return
	}

	info, err := h.client.StatObject(ctx, h.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.notFound(w, r, key)
			return
		}
		h.fail(w, r, log, fmt.Errorf("stat: %w", err))
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", ResolveContentType(key, info.ContentType))
	hdr.Set("Cache-Control", "public, max-age=31536000, immutable")
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "GET, HEAD")
	hdr.Set("Cross-Origin-Resource-Policy", "cross-origin")

	if r.Method == http.MethodHead {
		hdr.Set("Content-Length", strconv.FormatInt(info.Size, 10))
		hdr.Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		return
	}

	f, size, cleanup, err := h.stage(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Removed between stat and get.
			h.notFound(w, r, key)
			return
		}
		h.fail(w, r, log, err)
		return
	}
	defer cleanup()

	attrs := metric.WithAttributes(attribute.String("bucket", h.bucket))
	servedCount.Add(ctx, 1, attrs)
	servedBytes.Add(ctx, size, attrs)
	http.ServeContent(w, r, "", info.LastModified, f)
}

// stage copies the object into a temporary file and returns it rewound. The
// client only sees bytes once the whole object is on local disk. cleanup
// closes and removes the file; on error nothing is left behind.
func (h *Handler) stage(ctx context.Context, key string) (*os.File, int64, func(), error) {
	body, err := h.client.GetObject(ctx, h.bucket, key)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("get: %w", err)
	}
	defer body.Close()

	f, err := os.CreateTemp(h.tempDir, "proxy-*"+storage.Ext(key))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create staging file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
			h.log.Warn("remove staging file", zap.String("path", f.Name()), zap.Error(err))
		}
	}

	n, err := io.Copy(f, body)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("stage object: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("rewind staging file: %w", err)
	}
	return f, n, cleanup, nil
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request, key string) {
	missCount.Add(r.Context(), 1, metric.WithAttributes(attribute.Bool("audio", IsAudio(key))))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if IsAudio(key) {
		response.JSON(w, http.StatusNotFound, AudioFallback{
			Success:  false,
			Error:    "audio not found",
			Fallback: true,
			Key:      key,
		})
		return
	}
	response.NotFound(w, "file not found")
}

// fail serves the placeholder asset when one is configured, otherwise a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	serveErrors.Add(r.Context(), 1)
	log.Error("proxy request failed", zap.Error(err))

	hdr := w.Header()
	hdr.Del("Content-Length")
	if h.placeholder != "" {
		if st, statErr := os.Stat(h.placeholder); statErr == nil && !st.IsDir() {
			hdr.Set("Content-Type", ContentTypeFor(h.placeholder))
			hdr.Set("Cache-Control", "no-store")
			http.ServeFile(w, r, h.placeholder)
			return
		}
	}
	hdr.Del("Cache-Control")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	response.Error(w, http.StatusInternalServerError, "error retrieving file")
}

// Presign godoc
//
//	@Summary		Presigned download URL
//	@Description	Returns a time-limited direct URL for the object (2h for audio, 24h otherwise).
//	@Tags			media
//	@Produce		json
//	@Param			key	path		string	true	"Object key"
//	@Success		200	{object}	PresignedURL
//	@Failure		400	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/api/storage/presigned/{key} [get]
func (h *Handler) Presign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if !storage.ValidKey(key) {
		response.BadRequest(w, "invalid object key")
		return
	}

	if _, err := h.client.StatObject(ctx, h.bucket, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.NotFound(w, "file not found")
			return
		}
		h.log.Error("presign stat failed", zap.String("key", key), zap.Error(err))
		response.InternalError(w)
		return
	}

	ttl := TTLFor(key)
	u, err := h.client.PresignedGetURL(ctx, h.bucket, key, ttl)
	if err != nil {
		h.log.Error("presign failed", zap.String("key", key), zap.Error(err))
		response.InternalError(w)
		return
	}
	response.JSON(w, http.StatusOK, PresignedURL{Success: true, URL: u, ExpiresIn: int(ttl.Seconds())})
}
