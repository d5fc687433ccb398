// Command authserver runs the OAuth 2.0 authorization server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	oauth "github.com/giantswarm/oauth-authcode"
	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/internal/cli"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/server"
	"github.com/giantswarm/oauth-authcode/storage/valkey"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const envPrefix = "AUTHSERVER"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "authserver",
		Short:         "OAuth 2.0 authorization code server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cli.BindFlags(cmd, v, envPrefix, "config"); err != nil {
				return err
			}
			return run(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "optional YAML config file with flag values")
	flags.String("listen", ":3000", "listen address")
	flags.String("issuer", "http://localhost:3000", "issuer base URL")
	flags.Bool("allow-insecure-http", false, "allow an http:// issuer on a non-loopback host (development only)")
	flags.String("registry", "", "YAML file with clients and users (default: built-in demo registry)")
	flags.Int64("code-ttl", server.DefaultAuthorizationCodeTTL, "authorization code lifetime in seconds")
	flags.Int64("token-ttl", server.DefaultAccessTokenTTL, "access token lifetime in seconds")
	flags.Bool("trust-proxy", false, "trust X-Forwarded-For and X-Real-IP")
	flags.Int("trusted-proxy-count", 1, "number of trusted proxies in front of the server")
	flags.Int("rate-limit", 0, "requests per second per client IP (0 disables)")
	flags.Int("rate-burst", 0, "rate limit burst (default: rate-limit)")
	flags.String("storage", oauth.StorageBackendMemory, "code and token storage: memory or valkey")
	flags.String("valkey-addr", "localhost:6379", "valkey address")
	flags.String("valkey-password", "", "valkey password")
	flags.Int("valkey-db", 0, "valkey database number")
	flags.String("valkey-prefix", valkey.DefaultKeyPrefix, "valkey key prefix")
	flags.String("encryption-key", "", "base64 AES-256 key for encrypting stored codes and tokens")
	flags.Bool("audit", true, "enable security audit logging")
	flags.Bool("metrics", true, "enable metrics and tracing")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", cli.LogFormatText, "log format: text or json")

	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	logger, err := cli.NewLogger(os.Stderr, v.GetString("log-format"), v.GetString("log-level"))
	if err != nil {
		return err
	}

	cfg, err := buildConfig(v, logger)
	if err != nil {
		return err
	}

	srv, err := oauth.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.WithSignalCancel(cmd.Context())
	defer stop()

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	httpServer := cli.NewHTTPServer(v.GetString("listen"), security.RequestIDMiddleware(mux))

	logger.Info("Starting authorization server",
		"version", version,
		"issuer", cfg.Server.Issuer,
		"storage", cfg.Storage.Backend,
		"rate_limit", cfg.RateLimit.Rate,
		"audit_logging", cfg.Security.EnableAuditLogging)

	serveErr := cli.Serve(ctx, httpServer, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
	return serveErr
}

// buildConfig translates flag values into an oauth.Config
func buildConfig(v *viper.Viper, logger *slog.Logger) (*oauth.Config, error) {
	registry := oauth.DemoRegistry()
	if path := strings.TrimSpace(v.GetString("registry")); path != "" {
		loaded, err := oauth.LoadRegistryFile(path)
		if err != nil {
			return nil, err
		}
		registry = *loaded
	} else {
		logger.Warn("⚠️  SECURITY WARNING: Using built-in demo registry",
			"risk", "Well-known client secret and user password",
			"recommendation", "Pass --registry with your own clients and users")
	}

	cfg := &oauth.Config{
		Server: server.Config{
			Issuer:               v.GetString("issuer"),
			AllowInsecureHTTP:    v.GetBool("allow-insecure-http"),
			AuthorizationCodeTTL: v.GetInt64("code-ttl"),
			AccessTokenTTL:       v.GetInt64("token-ttl"),
			TrustProxy:           v.GetBool("trust-proxy"),
			TrustedProxyCount:    v.GetInt("trusted-proxy-count"),
		},
		Registry: registry,
		RateLimit: oauth.RateLimitConfig{
			Rate:  v.GetInt("rate-limit"),
			Burst: v.GetInt("rate-burst"),
		},
		Security: oauth.SecurityConfig{
			EnableAuditLogging: v.GetBool("audit"),
		},
		Storage: oauth.StorageConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString("storage"))),
			Valkey: valkey.Config{
				Address:   v.GetString("valkey-addr"),
				Password:  v.GetString("valkey-password"),
				DB:        v.GetInt("valkey-db"),
				KeyPrefix: v.GetString("valkey-prefix"),
			},
		},
		Instrumentation: instrumentation.Config{
			ServiceName:    instrumentation.DefaultServiceName,
			ServiceVersion: version,
			Enabled:        v.GetBool("metrics"),
		},
		Logger: logger,
	}

	if encoded := strings.TrimSpace(v.GetString("encryption-key")); encoded != "" {
		key, err := security.KeyFromBase64(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		cfg.Security.EncryptionKey = key
	}

	return cfg, nil
}
