package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/platform"
	"github.com/3leaps/adfanout/pkg/template"
	"github.com/3leaps/adfanout/pkg/validation"
)

// PreviewRequest asks for a rendered preview of one template and asset.
type PreviewRequest struct {
	TemplateID string `json:"template_id" validate:"required"`
	MediaID    string `json:"media_id" validate:"required"`
	Format     string `json:"format,omitempty"`
}

// PreviewResponse carries the platform's preview markup.
type PreviewResponse struct {
	TemplateID string `json:"template_id"`
	MediaID    string `json:"media_id"`
	Format     string `json:"format"`
	Body       string `json:"body"`
}

// PreviewHandler renders ad previews through the platform.
type PreviewHandler struct {
	platform    platform.Client
	templates   template.Provider
	media       bulk.MediaResolver
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewPreviewHandler creates the handler. Each platform call is bounded by
// callTimeout.
func NewPreviewHandler(client platform.Client, templates template.Provider, resolver bulk.MediaResolver, callTimeout time.Duration, logger *zap.Logger) *PreviewHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if callTimeout <= 0 {
		callTimeout = bulk.DefaultCallTimeout
	}
	return &PreviewHandler{
		platform:    client,
		templates:   templates,
		media:       resolver,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Preview handles POST /api/v1/preview.
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if err := validation.Struct(&req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if !h.platform.Ready() {
		respondWithError(w, r, bulk.ErrAuthNotInitialized)
		return
	}

	tmpl, err := h.templates.Get(req.TemplateID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	d, err := h.media.Get(req.MediaID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	token := d.PlatformToken
	if token == "" {
		token, err = h.resolveToken(r.Context(), d)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
	}

	format := req.Format
	if format == "" {
		format = platform.DefaultPreviewFormat
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
	defer cancel()
	body, err := h.platform.GeneratePreview(ctx, platform.PreviewSpec{
		AdCopy:     tmpl.AdCopy,
		MediaToken: token,
		MediaKind:  d.Kind,
		Format:     format,
	})
	if err != nil {
		h.logger.Warn("Preview generation failed",
			zap.String("template_id", req.TemplateID),
			zap.String("media_id", req.MediaID),
			zap.Error(err))
		respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PreviewResponse{
		TemplateID: tmpl.ID,
		MediaID:    d.ID,
		Format:     format,
		Body:       body,
	})
}

func (h *PreviewHandler) resolveToken(ctx context.Context, d *media.Descriptor) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()
	token, err := h.platform.ResolveMediaToken(ctx, *d)
	if err != nil {
		return "", err
	}
	if err := h.media.SetPlatformToken(d.ID, token); err != nil {
		h.logger.Warn("Caching platform media token failed",
			zap.String("media_id", d.ID), zap.Error(err))
	}
	return token, nil
}
