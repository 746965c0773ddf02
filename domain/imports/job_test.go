package imports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusLost, true},
		{StatusProcessing, StatusQueued, false},
		{StatusQueued, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusLost, StatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanAdvance(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, st)

	_, err = ParseStatus("lost")
	assert.True(t, pkgerrors.IsProtocol(err))
	_, err = ParseStatus("exploded")
	assert.True(t, pkgerrors.IsProtocol(err))
}

func TestJobApplyIsForwardOnly(t *testing.T) {
	now := time.Unix(100, 0)
	job := NewJob("imp-1", Source{Kind: "url", Location: "https://example.com"}, now)

	changed, advanced := job.Apply(Progress{Status: StatusProcessing, ProgressPercent: 50}, now.Add(time.Second))
	assert.True(t, changed)
	assert.True(t, advanced)

	changed, advanced = job.Apply(Progress{Status: StatusQueued, ProgressPercent: 20}, now.Add(2*time.Second))
	assert.False(t, changed)
	assert.False(t, advanced)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, 50.0, job.ProgressPercent)

	_, advanced = job.Apply(Progress{Status: StatusCompleted, ProgressPercent: 90}, now.Add(3*time.Second))
	assert.True(t, advanced)
	assert.Equal(t, 100.0, job.ProgressPercent)
	assert.Equal(t, now.Add(3*time.Second), job.FinishedAt)

	changed, _ = job.Apply(Progress{Status: StatusFailed, Error: "late"}, now.Add(4*time.Second))
	assert.False(t, changed)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestJobForce(t *testing.T) {
	now := time.Unix(100, 0)
	job := NewJob("imp-1", Source{Kind: "text", Content: "hello"}, now)
	job.Cancelling = true

	assert.True(t, job.Force(StatusLost, "poll failed", now))
	assert.Equal(t, StatusLost, job.Status)
	assert.False(t, job.Cancelling)
	assert.False(t, job.Force(StatusCancelled, "", now))
}

func TestSourceValidate(t *testing.T) {
	tests := []struct {
		name    string
		source  Source
		wantErr bool
	}{
		{name: "url", source: Source{Kind: "url", Location: "https://example.com/doc"}},
		{name: "text", source: Source{Kind: "text", Content: "facts"}},
		{name: "missing kind", source: Source{Location: "x"}, wantErr: true},
		{name: "url without location", source: Source{Kind: "url"}, wantErr: true},
		{name: "text without content", source: Source{Kind: "text"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.source.Validate()
			if tt.wantErr {
				assert.True(t, pkgerrors.IsValidation(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}
