package mirror

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrServiceUnavailable marks a store, judge or embedding backend that
	// could not be reached. Callers degrade to safe defaults on it.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrValidation marks malformed input that must fail fast.
	ErrValidation = errors.New("validation failed")

	// ErrJudgeParsing marks judge output that could not be decoded.
	ErrJudgeParsing = errors.New("judge output could not be parsed")
)

// ValidationError describes which input was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unavailable wraps err so that it matches ErrServiceUnavailable.
func Unavailable(service string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", service, ErrServiceUnavailable, err)
}

// IsTransient reports whether err is worth retrying: unreachable services,
// network failures and the retryable gRPC status codes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrServiceUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
			return true
		}
	}
	return false
}
