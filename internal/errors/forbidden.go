package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ForbiddenReason represents machine-readable reason codes for 403 errors.
type ForbiddenReason string

const (
	ReasonSessionNotOwned ForbiddenReason = "session_not_owned"
	ReasonRoleRequired    ForbiddenReason = "role_required"
)

// ForbiddenError represents a standardized 403 Forbidden response.
type ForbiddenError struct {
	Error     string          `json:"error"`     // Technical error message (for logs)
	UIMessage string          `json:"uiMessage"` // User-friendly message (for UI display)
	Reason    ForbiddenReason `json:"reason"`
	Details   map[string]any  `json:"details,omitempty"`
}

// AbortWithForbidden sends a 403 response with the ForbiddenError and aborts the request.
func AbortWithForbidden(c *gin.Context, err *ForbiddenError) {
	c.AbortWithStatusJSON(http.StatusForbidden, err)
}

// SessionNotOwned creates a ForbiddenError for access to another user's session.
func SessionNotOwned(sessionID string) *ForbiddenError {
	return &ForbiddenError{
		Error:     "Forbidden: You don't own this session",
		UIMessage: "You don't have permission to access this session.",
		Reason:    ReasonSessionNotOwned,
		Details:   map[string]any{"session_id": sessionID},
	}
}

// RoleRequired creates a ForbiddenError for admin endpoints.
func RoleRequired(role string, allowed []string) *ForbiddenError {
	return &ForbiddenError{
		Error:     "Role '" + role + "' is not allowed to access this resource",
		UIMessage: "You don't have access to the admin panel.",
		Reason:    ReasonRoleRequired,
		Details:   map[string]any{"role": role, "allowed_roles": allowed},
	}
}
