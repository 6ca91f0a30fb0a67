package errors

// APIError represents a simple standardized error response.
// Used for 400, 401, 404, 500 and 502 errors that don't need specialized shapes.
type APIError struct {
	Error   string         `json:"error"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given message and optional details.
func NewAPIError(message string, details map[string]any) *APIError {
	return &APIError{
		Error:   message,
		Details: details,
	}
}
