package media

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/despertar/media/internal/middleware"
	"github.com/despertar/media/internal/response"
	"github.com/despertar/media/internal/storage"
)

// maxMemory is the part of a multipart body kept in memory before spilling to disk.
const maxMemory = 8 << 20

// Handler holds HTTP handlers for attachment endpoints.
type Handler struct {
	svc      *Service
	maxBytes int64
	log      *zap.Logger
}

// NewHandler creates a media Handler. Request bodies above maxBytes are rejected.
func NewHandler(svc *Service, maxBytes int64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, maxBytes: maxBytes, log: log.Named("media.http")}
}

// Routes returns the attachment routes wrapped in mw. The handlers expect
// middleware.RequireAuth to be among them.
func (h *Handler) Routes(mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw...)
	r.Post("/{folder}", h.Upload)
	r.Delete("/*", h.Delete)
	return r
}

// Upload godoc
//
//	@Summary		Upload an attachment
//	@Description	Stores the multipart field "file" under a new key in the given folder, owned by the caller. When "replaces" names an object owned by the caller it is discarded after the new one is stored.
//	@Tags			media
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			folder		path		string	true	"Folder"	Enums(perfil, praticas, manifestacoes, transcricoes, diario)
//	@Param			file		formData	file	true	"Payload"
//	@Param			replaces	formData	string	false	"Key or URL of the object being replaced"
//	@Success		201			{object}	response.Envelope{data=Stored}
//	@Failure		400			{object}	response.Envelope
//	@Failure		401			{object}	response.Envelope
//	@Failure		403			{object}	response.Envelope
//	@Failure		413			{object}	response.Envelope
//	@Failure		500			{object}	response.Envelope
//	@Router			/api/v1/media/{folder} [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	folder, err := storage.ParseFolder(chi.URLParam(r, "folder"))
	if err != nil {
		response.BadRequest(w, "unknown folder")
		return
	}

	if h.maxBytes > 0 {
		if r.ContentLength > h.maxBytes {
			response.TooLarge(w, "file too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, "file too large")
			return
		}
		response.BadRequest(w, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "file field is required")
		return
	}
	defer file.Close()

	in := File{
		Reader:      file,
		Size:        header.Size,
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}

	var stored *Stored
	if old := r.FormValue("replaces"); old != "" {
		key, ok := h.svc.URLs().KeyFromURL(old)
		if !ok || !h.mayModify(r, key) {
			response.Forbidden(w, "cannot replace this object")
			return
		}
		stored, err = h.svc.Replace(r.Context(), key, folder, userID, in)
	} else {
		stored, err = h.svc.Store(r.Context(), folder, userID, in)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, stored)
}

// Delete godoc
//
//	@Summary		Delete an attachment
//	@Description	Removes the object stored under key. Deleting a missing object succeeds.
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			key	path		string	true	"Object key"
//	@Success		200	{object}	response.Envelope
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		403	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/api/v1/media/{key} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if middleware.UserID(r.Context()) == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	key := chi.URLParam(r, "*")
	if !storage.ValidKey(key) {
		response.BadRequest(w, "invalid object key")
		return
	}
	if !h.mayModify(r, key) {
		response.Forbidden(w, "cannot delete this object")
		return
	}

	if err := h.svc.Remove(r.Context(), key); err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, map[string]string{"key": key})
}

// mayModify reports whether the caller owns key or is an admin.
func (h *Handler) mayModify(r *http.Request, key string) bool {
	if middleware.IsAdmin(r.Context()) {
		return true
	}
	owner, ok := storage.OwnerOf(key)
	return ok && owner == middleware.UserID(r.Context())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrInvalidInput) {
		response.BadRequest(w, "invalid file")
		return
	}
	h.log.Error("media request failed",
		zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	if errors.Is(err, storage.ErrUploadFailed) {
		response.Error(w, http.StatusInternalServerError, "upload failed")
		return
	}
	response.InternalError(w)
}
