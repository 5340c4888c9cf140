package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// APIError is a service-reported error envelope: the remote accepted the
// request shape but rejected it with a business error code and message.
type APIError struct {
	Status  int    // HTTP status code
	Code    string `json:"exceptionCode"`
	Message string `json:"exceptionMessage"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transport: %s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("transport: %s: %s", e.Code, e.Message)
}

// SessionExpired reports whether this error means the session credential is
// no longer valid and a refresh should be attempted.
func (e *APIError) SessionExpired() bool {
	return e.Code == "InvalidSessionId"
}

// parseAPIError decodes an error envelope from a non-2xx response body.
// The remote emits either a bare envelope object or a one-element array.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []APIError
		if err := json.Unmarshal(trimmed, &list); err == nil && len(list) > 0 {
			apiErr.Code = list[0].Code
			apiErr.Message = list[0].Message
		}
	} else if len(trimmed) > 0 {
		_ = json.Unmarshal(trimmed, apiErr)
	}

	if apiErr.Code == "" && apiErr.Message == "" {
		apiErr.Code = "Unknown"
		apiErr.Message = string(trimmed)
	}
	return apiErr
}
