package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		debug   bool
		status  int
		errType ErrorType
		message string
	}{
		{name: "validation", err: NewValidationError("bad phase"), status: http.StatusBadRequest, errType: ErrorTypeValidation, message: "bad phase"},
		{name: "wrapped not found", err: Wrap(NewNotFoundError("node A"), "select"), status: http.StatusNotFound, errType: ErrorTypeNotFound},
		{name: "connection", err: NewConnectionError("import service unavailable", nil), status: http.StatusBadGateway, errType: ErrorTypeConnection},
		{name: "plain error hidden", err: errors.New("secret"), status: http.StatusInternalServerError, errType: ErrorTypeInternal, message: "An internal error occurred"},
		{name: "plain error in debug", err: errors.New("secret"), debug: true, status: http.StatusInternalServerError, errType: ErrorTypeInternal, message: "secret"},
		{name: "sequence gap", err: &SequenceGapError{Topic: "graph", Expected: 3}, status: http.StatusConflict, errType: ErrorTypeSequenceGap},
		{name: "simulation reset", err: &SimulationError{NodeID: "A", Field: "x"}, status: http.StatusInternalServerError, errType: ErrorTypeSimulation},
		{name: "engine timeout", err: Wrap(context.DeadlineExceeded, "status"), status: http.StatusGatewayTimeout, errType: ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewErrorHandler(zaptest.NewLogger(t), tt.debug)
			rec := httptest.NewRecorder()
			rec.Header().Set("X-Request-ID", "req-1")
			h.Handle(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.True(t, body.Error)
			assert.Equal(t, string(tt.errType), body.Type)
			assert.Equal(t, "req-1", body.RequestID)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Message)
			}
		})
	}
}

func TestErrorHandlerIgnoresNil(t *testing.T) {
	rec := httptest.NewRecorder()
	NewErrorHandler(zaptest.NewLogger(t), false).Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Empty(t, rec.Body.Bytes())
}

func TestErrorHandlerAdvertisesRetry(t *testing.T) {
	h := NewErrorHandler(zaptest.NewLogger(t), false)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/api/imports", nil), &SequenceGapError{Topic: "graph", Expected: 7})
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Retryable)
	assert.Equal(t, "graph", body.Details["topic"])
	assert.EqualValues(t, 7, body.Details["expected"])

	rec = httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/api/nodes/A", nil), NewNotFoundError("node A"))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}
