package pds

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials      = errors.New("invalid identifier or password")
	ErrSessionExpired          = errors.New("session expired")
	ErrAdminCredentialsMissing = errors.New("admin credentials not configured")
)

// Error is a non-success XRPC response. ErrorCode and Message carry the
// upstream JSON error body when one was present; Body is the raw
// response text for passthrough.
type Error struct {
	StatusCode int
	ErrorCode  string
	Message    string
	Body       string
}

func (e *Error) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("pds: %s (%d): %s", e.ErrorCode, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("pds: unexpected status %d", e.StatusCode)
}
