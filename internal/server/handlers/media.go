package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/adfanout/internal/errors"
	"github.com/3leaps/adfanout/pkg/media"
)

// MediaFormField is the multipart field carrying the upload.
const MediaFormField = "file"

// MediaHandler serves media uploads and lookups.
type MediaHandler struct {
	lib     *media.Library
	maxBody int64
	logger  *zap.Logger
}

// NewMediaHandler creates a handler over lib. maxBody caps the whole
// multipart request.
func NewMediaHandler(lib *media.Library, maxBody int64, logger *zap.Logger) *MediaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBody <= 0 {
		maxBody = media.DefaultLimits().MaxVideoBytes + 1<<20
	}
	return &MediaHandler{lib: lib, maxBody: maxBody, logger: logger}
}

// List handles GET /api/v1/media.
func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newList(h.lib.List()))
}

// Get handles GET /api/v1/media/{id}.
func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.lib.Get(pathID(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Upload handles POST /api/v1/media. The file part is streamed to storage
// without buffering the whole body.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	mr, err := r.MultipartReader()
	if err != nil {
		respondWithError(w, r, fmt.Errorf("%w: expected multipart/form-data: %v", apperrors.ErrBadRequest, err))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			respondWithError(w, r, fmt.Errorf("%w: missing %q form field", apperrors.ErrBadRequest, MediaFormField))
			return
		}
		if err != nil {
			respondWithError(w, r, uploadReadError(err))
			return
		}
		if part.FormName() != MediaFormField {
			_ = part.Close()
			continue
		}

		d, err := h.lib.Upload(r.Context(), media.UploadInput{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Body:        part,
			Size:        -1,
		})
		_ = part.Close()
		if err != nil {
			respondWithError(w, r, uploadReadError(err))
			return
		}
		h.logger.Info("Media uploaded",
			zap.String("media_id", d.ID),
			zap.String("kind", string(d.Kind)),
			zap.Int64("size", d.Size))
		w.Header().Set("Location", "/api/v1/media/"+d.ID)
		writeJSON(w, http.StatusCreated, d)
		return
	}
}

func uploadReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: request body exceeds %d bytes", media.ErrTooLarge, maxErr.Limit)
	}
	return err
}

// Delete handles DELETE /api/v1/media/{id}.
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := h.lib.Delete(r.Context(), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.logger.Info("Media deleted", zap.String("media_id", id))
	w.WriteHeader(http.StatusNoContent)
}
