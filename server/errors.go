package server

import "errors"

// Flow errors returned by Server. They are wrapped with context and matched
// with errors.Is; the HTTP layer maps each one to an OAuth error code.
var (
	// ErrInvalidClient means the client is unknown or its secret did not match
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidRedirectURI means the redirect URI is not registered for the client
	ErrInvalidRedirectURI = errors.New("invalid redirect uri")

	// ErrInvalidCredentials means the resource owner's username or password did not match
	ErrInvalidCredentials = errors.New("invalid resource owner credentials")

	// ErrUnsupportedResponseType means response_type was not "code"
	ErrUnsupportedResponseType = errors.New("unsupported response type")

	// ErrUnsupportedGrantType means grant_type was not "authorization_code"
	ErrUnsupportedGrantType = errors.New("unsupported grant type")

	// ErrInvalidGrant covers unknown, used, expired and mis-bound authorization codes.
	// The cause is deliberately not distinguished.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrMissingAuthorization means no credentials were presented to the resource endpoint
	ErrMissingAuthorization = errors.New("missing authorization")

	// ErrInvalidToken means the access token is unknown, expired or malformed
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidRequest means a required parameter was missing
	ErrInvalidRequest = errors.New("invalid request")
)
