package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReasonAuthRequired marks 401s caused by a guest calling a user-only operation
// (wishlist, watched, rating) as opposed to an invalid token.
const ReasonAuthRequired = "auth_required"

// AbortWithUnauthorized sends a 401 Unauthorized response and aborts the request.
func AbortWithUnauthorized(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusUnauthorized, message, details)
}

// AbortWithAuthRequired sends a 401 with reason auth_required.
func AbortWithAuthRequired(c *gin.Context, operation string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, &APIError{
		Error:   "Sign in to use " + operation,
		Reason:  ReasonAuthRequired,
		Details: map[string]any{"operation": operation},
	})
}
