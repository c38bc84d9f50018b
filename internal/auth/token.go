package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the claim set carried by client tokens. The auth service
// issues them; this layer only verifies.
type tokenClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// TokenVerifier checks HS256-signed client tokens against a shared secret.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a TokenVerifier for the given HMAC secret.
//
// Precondition: secret must be non-empty.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString.
//
// Postcondition: Returns the embedded identity, or ErrExpiredToken /
// ErrInvalidToken.
func (v *TokenVerifier) Verify(tokenString string) (User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return User{}, ErrExpiredToken
		}
		return User{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return User{}, ErrInvalidToken
	}

	return User{ID: claims.Subject, Username: claims.Username}, nil
}
