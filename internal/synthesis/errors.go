package synthesis

import (
	"errors"
	"fmt"
	"net/http"
)

// Remote status reported when a project quota is used up.
const statusResourceExhausted = "RESOURCE_EXHAUSTED"

// Error taxonomy of the submit and await stages.
var (
	// ErrQuotaExhausted marks a retryable rejection by the remote quota.
	ErrQuotaExhausted = errors.New("synthesis quota exhausted")
	// ErrExhausted is returned once the retry budget is spent while the
	// remote quota kept rejecting submissions.
	ErrExhausted = errors.New("synthesis retry budget exhausted")
	// ErrInvalidRequest marks a submission that retrying will not fix.
	ErrInvalidRequest = errors.New("invalid synthesis request")
	// ErrAwaitTimeout is returned when the operation did not finish before
	// the await deadline. The remote job keeps running.
	ErrAwaitTimeout = errors.New("timed out awaiting synthesis operation")
	// ErrOperationFailed is returned when the remote operation finished
	// with an error.
	ErrOperationFailed = errors.New("synthesis operation failed")
)

// APIError is a non-2xx response from the synthesis API.
type APIError struct {
	StatusCode int
	// Status is the remote status string, e.g. RESOURCE_EXHAUSTED.
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("synthesis API error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}

	return fmt.Sprintf("synthesis API error %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is classify the response as quota exhaustion or an invalid
// request.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrQuotaExhausted:
		return e.quotaExhausted()
	case ErrInvalidRequest:
		return !e.quotaExhausted()
	default:
		return false
	}
}

func (e *APIError) quotaExhausted() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Status == statusResourceExhausted
}
