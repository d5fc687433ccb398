package security

// Event type constants for security audit logging.
const (
	// Authorization endpoint events

	// EventAuthorizationRequestValidated is logged when a client/redirect pair passes validation
	// and the login form is shown
	EventAuthorizationRequestValidated = "authorization_request_validated"

	// EventAuthorizationCodeIssued is logged when a code is issued after a successful login
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventInvalidRedirect is logged when a redirect URI is not registered for the client
	EventInvalidRedirect = "invalid_redirect"

	// Token endpoint events

	// EventTokenIssued is logged when an access token is issued for a redeemed code
	EventTokenIssued = "token_issued"

	// EventAuthorizationCodeRedeemFailed is logged when a code is unknown, expired, or already used
	EventAuthorizationCodeRedeemFailed = "authorization_code_redeem_failed"

	// EventAuthorizationCodeBindingMismatch is logged when a redeemed code was bound to a
	// different client or redirect URI. The code is consumed.
	EventAuthorizationCodeBindingMismatch = "authorization_code_binding_mismatch"

	// Resource endpoint events

	// EventTokenValidationFailed is logged when a bearer token is unknown or expired
	EventTokenValidationFailed = "token_validation_failed" //nolint:gosec // G101: event name, not a credential

	// Generic events

	// EventAuthFailure is logged when client or resource owner authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
