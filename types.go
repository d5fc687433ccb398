package oauth

// TokenResponse is the body of a successful token endpoint response
type TokenResponse struct {
	// AccessToken is the opaque bearer token
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`
}

// ResourceResponse is the body of a successful protected resource response
type ResourceResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}
