package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
)

// validateIssuer checks the issuer URL scheme.
//   - HTTPS: always allowed
//   - HTTP on localhost: allowed with a warning
//   - HTTP elsewhere: rejected unless AllowInsecureHTTP is set
func validateIssuer(config *Config, logger *slog.Logger) error {
	if config.Issuer == "" {
		return nil
	}

	issuerURL, err := url.Parse(config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLocalhostHostname(hostname) {
		if !config.AllowInsecureHTTP {
			logger.Warn("⚠️  DEVELOPMENT WARNING: Running OAuth over HTTP on localhost",
				"issuer", config.Issuer,
				"risk", "Credentials and codes travel in cleartext",
				"to_suppress", "Set AllowInsecureHTTP=true in Config")
		}
		return nil
	}

	if !config.AllowInsecureHTTP {
		return fmt.Errorf("issuer must use HTTPS outside localhost (got %s://%s)", issuerURL.Scheme, hostname)
	}

	logger.Error("🚨 CRITICAL SECURITY WARNING: Running OAuth server over HTTP",
		"issuer", config.Issuer,
		"hostname", hostname,
		"risk", "Passwords, codes and tokens exposed to network sniffing")
	return nil
}

// isLocalhostHostname reports whether hostname is a loopback name or address.
// 0.0.0.0 counts as local since it is the usual development bind address.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
