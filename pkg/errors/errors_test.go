package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"connection", NewConnectionError("dial failed", errors.New("refused")), IsConnection, true},
		{"protocol", NewProtocolError("bad frame"), IsProtocol, true},
		{"protocol is not connection", NewProtocolError("bad frame"), IsConnection, false},
		{"job poll", NewJobPollError("job-1", 2, errors.New("503")), IsJobPoll, true},
		{"wrapped protocol", fmt.Errorf("ingest: %w", NewProtocolError("x")), IsProtocol, true},
		{"sequence gap", &SequenceGapError{Topic: "graph", Expected: 3}, IsSequenceGap, true},
		{"wrapped simulation", fmt.Errorf("tick: %w", &SimulationError{NodeID: "A"}), IsSimulation, true},
		{"plain error", errors.New("boom"), IsValidation, false},
		{"nil", nil, IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewConnectionError("x", nil)))
	assert.True(t, IsRetryable(NewJobPollError("j", 1, nil)))
	assert.False(t, IsRetryable(NewProtocolError("x")))
	assert.False(t, IsRetryable(errors.New("x")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))

	wrapped := Wrap(NewNotFoundError("node A"), "select")
	assert.True(t, IsNotFound(wrapped))
	assert.Contains(t, wrapped.Error(), "select: node A not found")

	plain := Wrapf(errors.New("eof"), "read %s", "frame")
	appErr := GetAppError(plain)
	if assert.NotNil(t, appErr) {
		assert.Equal(t, ErrorTypeInternal, appErr.Type)
		assert.EqualError(t, errors.Unwrap(plain), "eof")
	}
}

func TestIsMatchesTypeAndCode(t *testing.T) {
	err := NewProtocolError("edge endpoint missing").WithCode("dangling_edge")
	assert.True(t, errors.Is(err, &AppError{Type: ErrorTypeProtocol}))
	assert.True(t, errors.Is(err, &AppError{Type: ErrorTypeProtocol, Code: "dangling_edge"}))
	assert.False(t, errors.Is(err, &AppError{Type: ErrorTypeProtocol, Code: "other"}))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("x").HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, NewValidationError("x").HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, NewConnectionError("x", nil).HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, NewInternalError("x").HTTPStatus())
}
