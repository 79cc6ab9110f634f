package mirror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable wrapper", Unavailable("qdrant", errors.New("dial tcp")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"validation", NewValidationError("site_id", "empty"), false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc wrapped exhausted", fmt.Errorf("upsert: %w", status.Error(codes.ResourceExhausted, "busy")), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestUnavailable(t *testing.T) {
	assert.NoError(t, Unavailable("judge", nil))

	cause := errors.New("connection refused")
	err := Unavailable("judge", cause)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "judge")
}
