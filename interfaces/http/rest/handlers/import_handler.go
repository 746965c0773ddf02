package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/jobs"
	"github.com/Steake/GodelOS-sub005/domain/imports"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// ImportHandler submits, lists and cancels knowledge imports
type ImportHandler struct {
	base
	tracker *jobs.Tracker
}

// NewImportHandler creates an import handler. A nil tracker answers 404.
func NewImportHandler(view View, logger *zap.Logger, errorHandler *pkgerrors.ErrorHandler) *ImportHandler {
	return &ImportHandler{
		base:    base{view: view, logger: logger, errorHandler: errorHandler},
		tracker: view.Engine.Imports(),
	}
}

// ListImportsResponse lists tracked jobs
type ListImportsResponse struct {
	Jobs []imports.Job `json:"jobs"`
}

func (h *ImportHandler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.tracker == nil {
		h.errorHandler.Handle(w, r, pkgerrors.NewNotFoundError("import tracker"))
		return false
	}
	return true
}

// ListImports handles GET /api/imports
func (h *ImportHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.respondJSON(w, http.StatusOK, ListImportsResponse{Jobs: h.tracker.Jobs()})
}

// SubmitImport handles POST /api/imports
func (h *ImportHandler) SubmitImport(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var src imports.Source
	if err := decode(r, &src); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	id, err := h.tracker.Submit(r.Context(), src)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	job, _ := h.tracker.Job(id)
	h.respondJSON(w, http.StatusAccepted, job)
}

// CancelImport handles DELETE /api/imports/{id}
func (h *ImportHandler) CancelImport(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.tracker.Cancel(r.Context(), id); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	job, _ := h.tracker.Job(id)
	h.respondJSON(w, http.StatusAccepted, job)
}
