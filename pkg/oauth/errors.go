package oauth

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds callers branch on.
// The typed errors below match them through errors.Is.
var (
	// ErrAuthorization is returned when the redirect callback is rejected.
	ErrAuthorization = errors.New("authorization failed")

	// ErrRefreshFailed is returned when a refresh grant could not produce a token.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrReauthorizationRequired is returned when the refresh token is missing or
	// rejected and only a new interactive authorization can recover.
	ErrReauthorizationRequired = errors.New("re-authorization required")

	// ErrClearFailed is returned when stored tokens could not be cleared.
	ErrClearFailed = errors.New("clearing tokens failed")

	// ErrStorageUnavailable is returned when the credential store cannot be used.
	ErrStorageUnavailable = errors.New("credential storage unavailable")
)

// AuthorizationError reports a rejected redirect callback: either the
// authorization server returned an error or the state did not match.
type AuthorizationError struct {
	// Code is the OAuth error code, or "state_mismatch".
	Code string

	// Description is the optional human-readable description.
	Description string
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s - %s", e.Code, e.Description)
	}
	return "authorization failed: " + e.Code
}

// Is makes errors.Is(err, ErrAuthorization) true.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrAuthorization
}

// TokenEndpointError is a non-2xx answer from a token endpoint.
type TokenEndpointError struct {
	StatusCode  int
	ErrorCode   string
	Description string
}

// Error implements the error interface. The response body is never included.
func (e *TokenEndpointError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("token endpoint returned status %d (%s)", e.StatusCode, e.ErrorCode)
	}
	return fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
}

// IsInvalidGrant reports whether the endpoint rejected the grant itself.
func (e *TokenEndpointError) IsInvalidGrant() bool {
	return e.ErrorCode == "invalid_grant"
}

// RefreshError reports a failed refresh for a resource server. It always
// matches ErrRefreshFailed, and also ErrReauthorizationRequired when
// Reauthorize is set.
type RefreshError struct {
	ResourceServer string
	Reauthorize    bool
	Err            error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	prefix := "token refresh failed"
	if e.Reauthorize {
		prefix = "re-authorization required"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s for %s", prefix, e.ResourceServer)
	}
	return fmt.Sprintf("%s for %s: %v", prefix, e.ResourceServer, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Is matches the refresh sentinels.
func (e *RefreshError) Is(target error) bool {
	switch target {
	case ErrRefreshFailed:
		return true
	case ErrReauthorizationRequired:
		return e.Reauthorize
	}
	return false
}

// StorageError wraps a failure of the persistence layer.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s on %q failed: %v", e.Op, e.Collection, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorageUnavailable) true.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// ClearError reports that stored tokens for a resource server could not be removed.
type ClearError struct {
	ResourceServer string
	Err            error
}

// Error implements the error interface.
func (e *ClearError) Error() string {
	return fmt.Sprintf("failed to clear tokens for %s: %v", e.ResourceServer, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ClearError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrClearFailed) true.
func (e *ClearError) Is(target error) bool {
	return target == ErrClearFailed
}
