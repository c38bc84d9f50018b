package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cory-johannsen/arena/internal/config"
)

// User is the identity record returned by the auth service.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Service is the external auth collaborator consumed by the gatekeeper.
type Service interface {
	// ValidateUser resolves a credential to the user it belongs to.
	// A nil user with a nil error means the credential is not recognised.
	ValidateUser(ctx context.Context, token string) (*User, error)
	// GetUserInfo fetches the user record for an id, or nil if unknown.
	GetUserInfo(ctx context.Context, id string) (*User, error)
}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the configured auth service.
//
// Precondition: cfg.ServiceURL must be a valid base URL.
func NewClient(cfg config.AuthConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		http:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// ValidateUser asks the auth service which user the token belongs to.
//
// Postcondition: Returns (user, nil), (nil, nil) for an unrecognised token,
// or a non-nil error on transport failure.
func (c *Client) ValidateUser(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/session", nil)
	if err != nil {
		return nil, fmt.Errorf("building validate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling auth service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var u User
		if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
			return nil, fmt.Errorf("decoding auth response: %w", err)
		}
		return &u, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("auth service returned %d", resp.StatusCode)
	}
}

// GetUserInfo fetches the user record for the given id.
//
// Postcondition: Returns (user, nil), (nil, nil) when the id is unknown, or a
// non-nil error on transport failure.
func (c *Client) GetUserInfo(ctx context.Context, id string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("building user request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling auth service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var u User
		if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
			return nil, fmt.Errorf("decoding auth response: %w", err)
		}
		return &u, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("auth service returned %d", resp.StatusCode)
	}
}
