package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/coordinator"
)

// VersionHandler serves the version resource: creation, listing and the
// save/publish/discard lifecycle operations.
type VersionHandler struct {
	chi.Router

	coord *coordinator.Coordinator
	eh    ErrorHandler
	log   *zap.Logger
}

// NewVersionHandler routes the version endpoints.
func NewVersionHandler(c *coordinator.Coordinator, eh ErrorHandler, log *zap.Logger) *VersionHandler {
	h := &VersionHandler{
		Router: chi.NewRouter(),
		coord:  c,
		eh:     eh,
		log:    log,
	}

	h.Post("/", h.handleCreateVersion)
	h.Get("/", h.handleListVersions)
	h.Get("/{id}", h.handleGetVersion)
	h.Post("/{id}/save", h.handleSaveVersion)
	h.Post("/{id}/publish", h.handlePublishVersion)
	h.Post("/{id}/discard", h.handleDiscardVersion)

	return h
}

type createVersionRequest struct {
	Dataset            string                 `json:"dataset"`
	Label              string                 `json:"label"`
	VerificationPolicy map[string]interface{} `json:"verification-policy"`
}

func (h *VersionHandler) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.eh.HandleHTTPError(ctx, &depot.Error{
			Code: depot.EInvalid,
			Msg:  "malformed create-version request body",
			Err:  err,
		}, w)
		return
	}

	v, err := h.coord.CreateVersion(ctx, req.Dataset, req.Label, req.VerificationPolicy)
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+v.ID)
	_ = encodeResponse(ctx, w, http.StatusCreated, v)
}

func (h *VersionHandler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var filter depot.VersionFilter
	if dataset := r.URL.Query().Get("dataset"); dataset != "" {
		filter.Dataset = &dataset
	}

	vs, err := h.coord.ListVersions(ctx, filter)
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}
	_ = encodeResponse(ctx, w, http.StatusOK, vs)
}

func (h *VersionHandler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.coord.FindVersion(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}
	_ = encodeResponse(ctx, w, http.StatusOK, v)
}

func (h *VersionHandler) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.coord.SaveVersion(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}
	_ = encodeResponse(ctx, w, http.StatusAccepted, v)
}

func (h *VersionHandler) handlePublishVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.coord.PublishVersion(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}
	_ = encodeResponse(ctx, w, http.StatusAccepted, v)
}

type discardVersionRequest struct {
	Reason string `json:"reason"`
}

func (h *VersionHandler) handleDiscardVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The body is optional.
	var req discardVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.eh.HandleHTTPError(ctx, &depot.Error{
			Code: depot.EInvalid,
			Msg:  "malformed discard request body",
			Err:  err,
		}, w)
		return
	}

	v, err := h.coord.DiscardVersion(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.eh.HandleHTTPError(ctx, err, w)
		return
	}
	_ = encodeResponse(ctx, w, http.StatusOK, v)
}
