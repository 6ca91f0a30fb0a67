package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// QuotaError is the 429 shape returned when an upstream LLM provider reports
// an exhausted quota. Upstream 429s are never passed through verbatim.
type QuotaError struct {
	Error     string `json:"error"`
	UIMessage string `json:"uiMessage"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
}

// AbortWithQuotaExceeded sends a 429 response and aborts the request.
func AbortWithQuotaExceeded(c *gin.Context, err *QuotaError) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, err)
}

// ProviderQuotaExceeded creates a QuotaError for a model key and its provider.
func ProviderQuotaExceeded(model, provider, uiMessage string) *QuotaError {
	return &QuotaError{
		Error:     "Provider " + provider + " reported an exhausted quota for model " + model,
		UIMessage: uiMessage,
		Model:     model,
		Provider:  provider,
	}
}
