package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrProviderNotConfigured is wrapped by ProviderCallError when a catalog entry
// points at a provider without credentials.
var ErrProviderNotConfigured = errors.New("provider not configured")

// ErrEmptyCompletion is returned by providers that answered without any text.
var ErrEmptyCompletion = errors.New("provider returned no text")

// ProviderCallError is returned when the transport call fails or the provider
// answers with a non-success status.
type ProviderCallError struct {
	Model      string
	Provider   string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *ProviderCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s call for model %s failed with status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s call for model %s failed: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderCallError) Unwrap() error { return e.Err }

// ResponseParseError is returned when strict JSON was requested and the cleaned
// text does not parse. The Response returned alongside it still carries usage.
type ResponseParseError struct {
	Model string
	Text  string
	Err   error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("failed to parse %s response as JSON: %v", e.Model, e.Err)
}

func (e *ResponseParseError) Unwrap() error { return e.Err }

// QuotaExceededError is returned when the provider reports an exhausted quota or rate limit.
type QuotaExceededError struct {
	Model    string
	Provider string
	Err      error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded for model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *QuotaExceededError) Unwrap() error { return e.Err }

// StatusCoder is implemented by provider errors that know the HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

var quotaSignatures = []string{"429", "resource_exhausted", "quota", "rate limit", "too many requests"}

// hasQuotaSignature inspects an upstream error for a rate-limit or quota condition.
func hasQuotaSignature(err error, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range quotaSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsQuotaError reports whether err carries a quota/rate-limit condition.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}

	var quotaErr *QuotaExceededError
	if errors.As(err, &quotaErr) {
		return true
	}

	// Errors that did not pass through the adapter are classified by signature.
	var callErr *ProviderCallError
	if errors.As(err, &callErr) {
		return hasQuotaSignature(callErr.Err, callErr.StatusCode)
	}

	return hasQuotaSignature(err, 0)
}

// classifyProviderError wraps a raw provider error into the taxonomy.
func classifyProviderError(model Model, err error) error {
	status := 0
	var coder StatusCoder
	if errors.As(err, &coder) {
		status = coder.HTTPStatus()
	}

	if hasQuotaSignature(err, status) {
		return &QuotaExceededError{Model: model.Key, Provider: model.Provider, Err: err}
	}

	return &ProviderCallError{Model: model.Key, Provider: model.Provider, StatusCode: status, Err: err}
}
