package auth

import "errors"

// ErrMissingCredential is returned when a handshake carries no token.
var ErrMissingCredential = errors.New("missing credential")

// ErrExpiredToken is returned when the token's expiry has passed.
var ErrExpiredToken = errors.New("token expired")

// ErrInvalidToken is returned for malformed tokens, bad signatures, or tokens
// the auth service does not recognise.
var ErrInvalidToken = errors.New("invalid token")

// ErrUserNotFound is returned when the auth service has no record of the user.
var ErrUserNotFound = errors.New("user not found")
