// Package auth verifies client credentials during the connection handshake,
// before any transport upgrade or session state is allocated.
package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// HandshakeInfo is the credential material extracted from an upgrade request.
type HandshakeInfo struct {
	// Token is the bearer credential presented by the client.
	Token string
	// RemoteAddr is the client network address, for logging only.
	RemoteAddr string
}

// Gatekeeper verifies a connection's credential: local signature and expiry
// checks first, then confirmation with the auth service. The connection
// registry never observes a connection that has not passed VerifyClient.
type Gatekeeper struct {
	verifier *TokenVerifier
	service  Service
	logger   *zap.Logger
}

// NewGatekeeper creates a Gatekeeper.
//
// Precondition: verifier, service, and logger must be non-nil.
func NewGatekeeper(verifier *TokenVerifier, service Service, logger *zap.Logger) *Gatekeeper {
	return &Gatekeeper{
		verifier: verifier,
		service:  service,
		logger:   logger,
	}
}

// VerifyClient runs the handshake check: extract credential, verify locally,
// confirm with the auth service. Callers must deny the upgrade on any error,
// closing the underlying connection before allocating resources.
//
// Postcondition: Returns the authenticated user, or ErrMissingCredential /
// ErrExpiredToken / ErrInvalidToken.
func (g *Gatekeeper) VerifyClient(ctx context.Context, info HandshakeInfo) (User, error) {
	if info.Token == "" {
		return User{}, ErrMissingCredential
	}

	start := time.Now()
	local, err := g.verifier.Verify(info.Token)
	if err != nil {
		g.logger.Info("handshake rejected",
			zap.String("remote_addr", info.RemoteAddr),
			zap.Error(err),
		)
		return User{}, err
	}

	remote, err := g.service.ValidateUser(ctx, info.Token)
	if err != nil {
		return User{}, fmt.Errorf("validating credential: %w", err)
	}
	if remote == nil || remote.ID != local.ID {
		g.logger.Info("handshake rejected by auth service",
			zap.String("remote_addr", info.RemoteAddr),
			zap.String("user_id", local.ID),
		)
		return User{}, ErrInvalidToken
	}

	g.logger.Debug("handshake verified",
		zap.String("user_id", remote.ID),
		zap.String("username", remote.Username),
		zap.Duration("elapsed", time.Since(start)),
	)
	return *remote, nil
}

// UserInfo is the pass-through lookup to the auth service.
//
// Postcondition: Returns the user record, or ErrUserNotFound.
func (g *Gatekeeper) UserInfo(ctx context.Context, id string) (User, error) {
	u, err := g.service.GetUserInfo(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("fetching user info: %w", err)
	}
	if u == nil {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, id)
	}
	return *u, nil
}
