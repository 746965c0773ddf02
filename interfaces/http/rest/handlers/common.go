// Package handlers serves the live view over HTTP. Every handler reaches the
// graph through the engine loop.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/engine"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// View is the state the handlers drive. Scene and Controller are confined to
// the engine loop.
type View struct {
	Engine     *engine.Engine
	Scene      *render.Scene
	Controller *render.Controller
}

type base struct {
	view         View
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

func (b *base) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		b.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// decode reads a JSON body into dst, rejecting unknown fields
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return pkgerrors.NewValidationError("invalid request body").WithCause(err)
	}
	return nil
}
