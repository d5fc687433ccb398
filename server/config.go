package server

import (
	"log/slog"
	"time"
)

// Default lifetimes, in seconds
const (
	DefaultAuthorizationCodeTTL = 600
	DefaultAccessTokenTTL       = 3600
	DefaultClockSkewGracePeriod = 5
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's base URL
	Issuer string

	// AllowInsecureHTTP permits an http:// issuer on a non-loopback host.
	// Development only.
	AllowInsecureHTTP bool // default: false

	// AuthorizationCodeTTL is how long an unredeemed code stays valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long an access token stays valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// ClockSkewGracePeriod is how long past expiry an access token is still accepted
	ClockSkewGracePeriod int64 // seconds, default: 5

	// TrustProxy enables reading the client IP from X-Forwarded-For / X-Real-IP.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of proxies in front of this server.
	// The client IP is taken as ips[len(ips) - TrustedProxyCount - 1].
	TrustedProxyCount int // default: 1
}

// AuthorizationCodeTTLDuration returns the code lifetime as a time.Duration
func (c *Config) AuthorizationCodeTTLDuration() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

// AccessTokenTTLDuration returns the token lifetime as a time.Duration
func (c *Config) AccessTokenTTLDuration() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

// ClockSkewGracePeriodDuration returns the token grace period as a time.Duration
func (c *Config) ClockSkewGracePeriodDuration() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}

// applySecureDefaults fills unset values and warns about risky ones
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.ClockSkewGracePeriod <= 0 {
		config.ClockSkewGracePeriod = DefaultClockSkewGracePeriod
	}
	if config.TrustedProxyCount <= 0 {
		config.TrustedProxyCount = 1
	}

	logSecurityWarnings(config, logger)

	return config
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AuthorizationCodeTTL > DefaultAuthorizationCodeTTL {
		logger.Warn("⚠️  SECURITY WARNING: Long authorization code lifetime",
			"authorization_code_ttl", config.AuthorizationCodeTTL,
			"risk", "Intercepted codes stay redeemable for longer",
			"recommendation", "Keep AuthorizationCodeTTL at or below 600 seconds")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
}
