package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security events to a structured logger.
// Usernames are hashed before logging.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// WithRequestID returns an Auditor whose events carry the request ID.
// An empty ID returns a unchanged.
func (a *Auditor) WithRequestID(requestID string) *Auditor {
	if a == nil || requestID == "" {
		return a
	}
	return &Auditor{
		logger:  a.logger.With("request_id", requestID),
		enabled: a.enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthorizationCodeIssued logs a successful login that produced a code
func (a *Auditor) LogAuthorizationCodeIssued(username, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeIssued,
		UserID:    username,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(username, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    username,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(username, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    username,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogInvalidRedirect logs a redirect URI that is not registered for the client
func (a *Auditor) LogInvalidRedirect(clientID, ipAddress, redirectURI string) {
	a.LogEvent(Event{
		Type:      EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"redirect_uri": redirectURI,
		},
	})
}

// LogCodeRedeemFailed logs a redemption of an unknown, expired, or used code
func (a *Auditor) LogCodeRedeemFailed(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeRedeemFailed,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogCodeBindingMismatch logs a code redeemed by a different client or
// against a different redirect URI than it was issued for
func (a *Auditor) LogCodeBindingMismatch(username, issuedClientID, requestClientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeBindingMismatch,
		UserID:    username,
		ClientID:  requestClientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"issued_client_id": issuedClientID,
		},
	})
}

// LogTokenValidationFailed logs a rejected bearer token
func (a *Auditor) LogTokenValidationFailed(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventTokenValidationFailed,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
