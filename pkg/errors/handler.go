package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// retryAfterSeconds is advertised on retryable failures
const retryAfterSeconds = 2

// ErrorResponse is the body of every API error
type ErrorResponse struct {
	Error     bool                   `json:"error"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// ErrorHandler writes errors as JSON responses
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates an error handler. In debug mode unexpected errors
// expose their message.
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	return &ErrorHandler{logger: logger, debug: debug}
}

// Handle maps err to a status and writes it
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	status, resp := h.classify(err)
	resp.Error = true
	resp.RequestID = w.Header().Get("X-Request-ID")

	fields := []zap.Field{
		zap.Error(err),
		zap.String("error_type", resp.Type),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", resp.RequestID),
	}
	switch {
	case status >= 500 && resp.Type == string(ErrorTypeInternal):
		h.logger.Error("Request failed", fields...)
	case status >= 500:
		h.logger.Warn("Request failed", fields...)
	default:
		h.logger.Debug("Request rejected", fields...)
	}

	if resp.Retryable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	h.sendJSON(w, status, resp)
}

func (h *ErrorHandler) classify(err error) (int, ErrorResponse) {
	var gap *SequenceGapError
	var sim *SimulationError
	switch {
	case errors.As(err, &gap):
		return http.StatusConflict, ErrorResponse{
			Type:      string(ErrorTypeSequenceGap),
			Message:   "topic is resynchronising",
			Details:   map[string]interface{}{"topic": gap.Topic, "expected": gap.Expected},
			Retryable: true,
		}
	case errors.As(err, &sim):
		return http.StatusInternalServerError, ErrorResponse{
			Type:    string(ErrorTypeSimulation),
			Message: "layout reset a node",
			Details: map[string]interface{}{"node": sim.NodeID, "field": sim.Field},
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{
			Type:      string(ErrorTypeInternal),
			Message:   "engine did not answer in time",
			Retryable: true,
		}
	}

	if appErr := GetAppError(err); appErr != nil {
		return appErr.HTTPStatus(), ErrorResponse{
			Type:      string(appErr.Type),
			Message:   appErr.Message,
			Code:      appErr.Code,
			Details:   appErr.Details,
			Retryable: appErr.Retryable,
		}
	}

	message := "An internal error occurred"
	if h.debug {
		message = err.Error()
	}
	return http.StatusInternalServerError, ErrorResponse{Type: string(ErrorTypeInternal), Message: message}
}

func (h *ErrorHandler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}
