package auth

import (
	"net/http"
	"strings"

	"github.com/eternisai/saimilar/internal/logger"
	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	// IdentityKey is the gin context key holding the caller Identity.
	IdentityKey contextKey = "identity"
	// UserIDKey is the gin context key holding the uid (for Firestore paths).
	UserIDKey contextKey = "user_id"
)

type Middleware struct {
	validator TokenValidator
}

func NewMiddleware(validator TokenValidator) *Middleware {
	return &Middleware{validator: validator}
}

// bearerToken extracts the bearer token. WebSocket upgrades may pass it as ?token=.
func bearerToken(c *gin.Context) (token string, present bool, errMsg string) {
	authHeader := c.GetHeader("Authorization")

	// Browser WebSocket API doesn't support custom headers during upgrade
	if authHeader == "" && c.Request.Header.Get("Upgrade") == "websocket" {
		if t := c.Query("token"); t != "" {
			authHeader = "Bearer " + t
		}
	}

	if authHeader == "" {
		return "", false, ""
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", true, "Authorization header must be a Bearer token"
	}

	token = strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", true, "Bearer token is empty"
	}

	return token, true, ""
}

func (m *Middleware) authenticate(c *gin.Context, required bool) {
	token, present, errMsg := bearerToken(c)

	if !present {
		if required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}
		c.Next()
		return
	}

	if errMsg != "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
		return
	}

	identity, err := m.validator.Validate(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), identity.UserID))
	c.Set(string(IdentityKey), identity)
	c.Set(string(UserIDKey), identity.UserID)

	c.Next()
}

// RequireAuth rejects requests without a valid bearer token.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.authenticate(c, true)
	}
}

// OptionalAuth attaches the identity when a token is present. Guests pass through,
// an invalid token is still rejected.
func (m *Middleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.authenticate(c, false)
	}
}

// GetIdentity extracts the caller identity from the Gin context.
func GetIdentity(c *gin.Context) (Identity, bool) {
	value, exists := c.Get(string(IdentityKey))
	if !exists {
		return Identity{}, false
	}

	identity, ok := value.(Identity)
	return identity, ok
}

// GetUserID extracts the uid from the Gin context.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(string(UserIDKey))
	if !exists {
		return "", false
	}

	id, ok := userID.(string)
	return id, ok
}
