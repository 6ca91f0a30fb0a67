package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoJWKS       = errors.New("no JWKS URL provided")
)

// StandardClaims represents the claims read from a JWT token.
type StandardClaims struct {
	Sub    string `json:"sub"`
	UserId string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	// UserID is the stable uid used for Firestore paths (sub, then user_id, then email).
	UserID string
	Email  string
	Name   string

	// SignInProvider is e.g. "google.com", "password" or "anonymous".
	SignInProvider string
}

// IsAnonymous returns true if the user authenticated anonymously.
func (i Identity) IsAnonymous() bool {
	return i.SignInProvider == "anonymous"
}

// TokenValidator validates a bearer token and returns the caller identity.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// identityFromClaims applies the uid precedence shared by both validators.
func identityFromClaims(claims *StandardClaims, provider string) (Identity, error) {
	identity := Identity{
		Email:          claims.Email,
		Name:           claims.Name,
		SignInProvider: provider,
	}

	switch {
	case claims.Sub != "":
		identity.UserID = claims.Sub
	case claims.UserId != "":
		identity.UserID = claims.UserId
	case claims.Email != "":
		identity.UserID = claims.Email
	default:
		return Identity{}, errors.Join(ErrInvalidToken, errors.New("no sub, user_id, or email found in token claims"))
	}

	return identity, nil
}
