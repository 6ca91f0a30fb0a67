package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func abort(c *gin.Context, status int, message string, details map[string]any) {
	c.AbortWithStatusJSON(status, NewAPIError(message, details))
}

// AbortWithBadRequest sends a 400 response for malformed bodies, unknown
// enum values and out-of-range ratings.
func AbortWithBadRequest(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusBadRequest, message, details)
}

// AbortWithNotFound sends a 404 for unknown sessions and items not present in
// the current results.
func AbortWithNotFound(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusNotFound, message, details)
}

func AbortWithInternal(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusInternalServerError, message, details)
}

// AbortWithBadGateway sends a 502 for failed upstream calls (LLM providers, TMDB).
func AbortWithBadGateway(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusBadGateway, message, details)
}
