package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/oauth-authcode/server"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInvalidCredentials      = "invalid_credentials"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeMissingAuthorization    = "missing_authorization"
	ErrorCodeServerError             = "server_error"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code is unknown, used, expired or mis-bound
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates the client is unknown or failed authentication.
	// Returned as 400 on every endpoint.
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrMissingAuthorization indicates no Authorization header was sent
	ErrMissingAuthorization = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeMissingAuthorization, desc, http.StatusUnauthorized)
	}

	// ErrInvalidCredentials indicates the resource owner's login failed
	ErrInvalidCredentials = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidCredentials, desc, http.StatusBadRequest)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is not registered for the client
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates the response type is not supported
	ErrUnsupportedResponseType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrRateLimitExceeded indicates the caller's IP exceeded its request budget
	ErrRateLimitExceeded = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// toOAuthError maps a flow error from the server package onto its wire form.
// Descriptions are fixed strings so internal detail never reaches the client.
func toOAuthError(err error) *OAuthError {
	var oauthErr *OAuthError
	switch {
	case errors.As(err, &oauthErr):
		return oauthErr
	case errors.Is(err, server.ErrInvalidClient):
		return ErrInvalidClient("Client authentication failed")
	case errors.Is(err, server.ErrInvalidRedirectURI):
		return ErrInvalidRedirectURI("Redirect URI is not registered for this client")
	case errors.Is(err, server.ErrInvalidCredentials):
		return ErrInvalidCredentials("Invalid username or password")
	case errors.Is(err, server.ErrUnsupportedResponseType):
		return ErrUnsupportedResponseType("Only response_type=code is supported")
	case errors.Is(err, server.ErrUnsupportedGrantType):
		return ErrUnsupportedGrantType("Only grant_type=authorization_code is supported")
	case errors.Is(err, server.ErrInvalidGrant):
		return ErrInvalidGrant("Authorization code is invalid or expired")
	case errors.Is(err, server.ErrMissingAuthorization):
		return ErrMissingAuthorization("Missing Authorization header")
	case errors.Is(err, server.ErrInvalidToken):
		return ErrInvalidToken("Access token is invalid or expired")
	case errors.Is(err, server.ErrInvalidRequest):
		return ErrInvalidRequest("Request is missing a required parameter")
	default:
		return ErrServerError("An internal error occurred")
	}
}
