package errors

// APIError is the JSON error envelope returned by the HTTP surface.
// Details is either a field map (validation) or the underlying error message.
type APIError struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given message and optional details.
func NewAPIError(message string, details interface{}) *APIError {
	return &APIError{
		Error:   message,
		Details: details,
	}
}
