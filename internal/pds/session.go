package pds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// SessionData is the token bundle returned by the session endpoints.
type SessionData struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJWT  string `json:"accessJwt"`
	RefreshJWT string `json:"refreshJwt"`
}

// CreateSession exchanges an identifier (handle, DID, or email) and
// password for a fresh session.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*SessionData, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	var out SessionData
	err := c.call(ctx, http.MethodPost, "com.atproto.server.createSession", callOptions{body: body}, &out)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusBadRequest) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
		}
		return nil, err
	}
	return &out, nil
}

// RefreshSession rotates the token pair using the refresh token.
func (c *Client) RefreshSession(ctx context.Context, refreshJWT string) (*SessionData, error) {
	var out SessionData
	err := c.call(ctx, http.MethodPost, "com.atproto.server.refreshSession", callOptions{bearer: refreshJWT}, &out)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusBadRequest) {
			return nil, fmt.Errorf("%w: %s", ErrSessionExpired, apiErr.Message)
		}
		return nil, err
	}
	return &out, nil
}

// DeleteSession revokes the refresh token server-side. Sign-out treats
// this as best effort.
func (c *Client) DeleteSession(ctx context.Context, refreshJWT string) error {
	return c.call(ctx, http.MethodPost, "com.atproto.server.deleteSession", callOptions{bearer: refreshJWT}, nil)
}
