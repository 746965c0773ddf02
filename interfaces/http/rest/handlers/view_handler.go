package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/domain/layout"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// ViewHandler serves the scene, status and layout controls
type ViewHandler struct {
	base
	svg render.SVGOptions
}

// NewViewHandler creates a view handler
func NewViewHandler(view View, logger *zap.Logger, errorHandler *pkgerrors.ErrorHandler) *ViewHandler {
	return &ViewHandler{
		base: base{view: view, logger: logger, errorHandler: errorHandler},
		svg:  render.DefaultSVGOptions(),
	}
}

// SceneResponse is the full projected scene
type SceneResponse struct {
	Viewport render.Viewport    `json:"viewport"`
	Nodes    []render.NodeGlyph `json:"nodes"`
	Edges    []render.EdgeGlyph `json:"edges"`
	Selected string             `json:"selected,omitempty"`
	Stale    bool               `json:"stale"`
}

// PointerResponse reports the gesture state after a pointer event
type PointerResponse struct {
	Dragging string             `json:"dragging,omitempty"`
	Selected *render.NodeDetail `json:"selected,omitempty"`
}

// ViewportRequest pans by (dx, dy) then zooms by zoom around (x, y)
type ViewportRequest struct {
	DX   float64 `json:"dx"`
	DY   float64 `json:"dy"`
	Zoom float64 `json:"zoom"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// SnapshotResponse is the cognitive snapshot
type SnapshotResponse struct {
	Version uint64                     `json:"version"`
	Values  map[string]json.RawMessage `json:"values"`
}

// Health handles GET /health
func (h *ViewHandler) Health(w http.ResponseWriter, r *http.Request) {
	st, err := h.view.Engine.Status(r.Context())
	if err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"connection": st.Connection,
		"stale":      st.Stale(),
	})
}

// GetStatus handles GET /api/status
func (h *ViewHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.view.Engine.Status(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, st)
}

// GetScene handles GET /api/scene
func (h *ViewHandler) GetScene(w http.ResponseWriter, r *http.Request) {
	var resp SceneResponse
	err := h.view.Engine.Call(r.Context(), func() {
		if h.view.Scene.Dirty() {
			h.view.Scene.Frame()
		}
		resp = SceneResponse{
			Viewport: h.view.Scene.Viewport(),
			Nodes:    h.view.Scene.Nodes(),
			Edges:    h.view.Scene.Edges(),
			Selected: h.view.Scene.Selected(),
		}
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if st, err := h.view.Engine.Status(r.Context()); err == nil {
		resp.Stale = st.Stale()
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetSceneSVG handles GET /api/scene.svg
func (h *ViewHandler) GetSceneSVG(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	var writeErr error
	if err := h.view.Engine.Call(r.Context(), func() {
		writeErr = render.WriteSVG(&buf, h.view.Scene, h.svg)
	}); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if writeErr != nil {
		h.errorHandler.Handle(w, r, writeErr)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Pointer handles POST /api/pointer
func (h *ViewHandler) Pointer(w http.ResponseWriter, r *http.Request) {
	var ev render.PointerEvent
	if err := decode(r, &ev); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	var resp PointerResponse
	err := h.view.Engine.Interact(r.Context(), func() error {
		if err := h.view.Controller.Pointer(ev); err != nil {
			return err
		}
		if id, ok := h.view.Controller.Dragging(); ok {
			resp.Dragging = id
		}
		if detail, ok := h.view.Controller.Selected(); ok {
			resp.Selected = &detail
		}
		return nil
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// SetViewport handles POST /api/viewport
func (h *ViewHandler) SetViewport(w http.ResponseWriter, r *http.Request) {
	var req ViewportRequest
	if err := decode(r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	var vp render.Viewport
	err := h.view.Engine.Call(r.Context(), func() {
		if req.DX != 0 || req.DY != 0 {
			h.view.Scene.PanBy(req.DX, req.DY)
		}
		if req.Zoom > 0 && req.Zoom != 1 {
			h.view.Scene.ZoomAt(req.Zoom, render.Point{X: req.X, Y: req.Y})
		}
		vp = h.view.Scene.Viewport()
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, vp)
}

// SetLayout handles PUT /api/layout
func (h *ViewHandler) SetLayout(w http.ResponseWriter, r *http.Request) {
	var opts layout.Options
	if err := decode(r, &opts); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if err := h.view.Engine.SetLayoutOptions(r.Context(), opts); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, opts)
}

// GetSnapshot handles GET /api/snapshot
func (h *ViewHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	var resp SnapshotResponse
	err := h.view.Engine.Call(r.Context(), func() {
		snap := h.view.Engine.Snapshot()
		resp = SnapshotResponse{Version: snap.Version(), Values: snap.Values()}
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}
