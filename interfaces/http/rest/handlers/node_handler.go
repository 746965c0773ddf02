package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// NodeHandler serves node details and node gestures
type NodeHandler struct {
	base
}

// NewNodeHandler creates a node handler
func NewNodeHandler(view View, logger *zap.Logger, errorHandler *pkgerrors.ErrorHandler) *NodeHandler {
	return &NodeHandler{base: base{view: view, logger: logger, errorHandler: errorHandler}}
}

// ListNodesResponse is a page of nodes
type ListNodesResponse struct {
	Nodes []entities.Node `json:"nodes"`
	Total int             `json:"total"`
}

// FilterRequest limits the visible categories. An empty list shows all.
type FilterRequest struct {
	Categories []string `json:"categories"`
}

// ListNodes handles GET /api/nodes?category=
func (h *NodeHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	resp := ListNodesResponse{Nodes: []entities.Node{}}
	err := h.view.Engine.Call(r.Context(), func() {
		model := h.view.Engine.Model()
		nodes := model.Nodes()
		if category != "" {
			nodes = model.ByCategory(category)
		}
		for n := range nodes {
			resp.Nodes = append(resp.Nodes, n)
		}
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	resp.Total = len(resp.Nodes)
	h.respondJSON(w, http.StatusOK, resp)
}

// GetNode handles GET /api/nodes/{id}
func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var detail render.NodeDetail
	var found bool
	if err := h.view.Engine.Call(r.Context(), func() {
		detail, found = h.view.Controller.Detail(id)
	}); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if !found {
		h.errorHandler.Handle(w, r, pkgerrors.NewNotFoundError("node "+id))
		return
	}
	h.respondJSON(w, http.StatusOK, detail)
}

// SelectNode handles POST /api/nodes/{id}/select
func (h *NodeHandler) SelectNode(w http.ResponseWriter, r *http.Request) {
	h.gesture(w, r, func(c *render.Controller, id string) error { return c.Select(id) })
}

// PinNode handles POST /api/nodes/{id}/pin
func (h *NodeHandler) PinNode(w http.ResponseWriter, r *http.Request) {
	h.gesture(w, r, func(c *render.Controller, id string) error { return c.Pin(id) })
}

// UnpinNode handles DELETE /api/nodes/{id}/pin
func (h *NodeHandler) UnpinNode(w http.ResponseWriter, r *http.Request) {
	h.gesture(w, r, func(c *render.Controller, id string) error { return c.Unpin(id) })
}

// gesture runs fn on the loop and responds with the node's detail afterwards
func (h *NodeHandler) gesture(w http.ResponseWriter, r *http.Request, fn func(*render.Controller, string) error) {
	id := chi.URLParam(r, "id")

	var detail render.NodeDetail
	err := h.view.Engine.Interact(r.Context(), func() error {
		if err := fn(h.view.Controller, id); err != nil {
			return err
		}
		detail, _ = h.view.Controller.Detail(id)
		return nil
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, detail)
}

// DeleteNode handles DELETE /api/nodes/{id}
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.view.Engine.Interact(r.Context(), func() error {
		return h.view.Controller.Delete(id)
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.logger.Info("Node deleted", zap.String("node_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// SetFilter handles PUT /api/filter
func (h *NodeHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := decode(r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	err := h.view.Engine.Interact(r.Context(), func() error {
		h.view.Controller.FilterCategories(req.Categories...)
		return nil
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if req.Categories == nil {
		req.Categories = []string{}
	}
	h.respondJSON(w, http.StatusOK, req)
}
