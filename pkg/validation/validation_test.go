package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	ID    string   `validate:"required"`
	Score *float64 `validate:"omitempty,gte=0,lte=1"`
	Mode  string   `validate:"omitempty,oneof=force2d force3d"`
}

func ptr(f float64) *float64 { return &f }

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		in      sample
		wantErr string
	}{
		{name: "valid", in: sample{ID: "A", Score: ptr(0.5), Mode: "force2d"}},
		{name: "nil pointer skipped", in: sample{ID: "A"}},
		{name: "missing id", in: sample{}, wantErr: "ID is required"},
		{name: "score above range", in: sample{ID: "A", Score: ptr(1.5)}, wantErr: "Score must be at most 1"},
		{name: "score below range", in: sample{ID: "A", Score: ptr(-0.1)}, wantErr: "Score must be at least 0"},
		{name: "bad mode", in: sample{ID: "A", Mode: "grid"}, wantErr: "Mode must be one of: force2d force3d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
