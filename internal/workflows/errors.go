package workflows

import "fmt"

// ErrTypeInvalidInput tags non-retryable failures caused by a bad request.
const ErrTypeInvalidInput = "InvalidInput"

// FormatErrorForResult formats an error for a step outcome's detail.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s failed: %v", operation, err)
}
