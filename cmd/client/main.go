// Command client runs the demo OAuth client web application.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/oauth-authcode/client"
	"github.com/giantswarm/oauth-authcode/internal/cli"
	"github.com/giantswarm/oauth-authcode/security"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const envPrefix = "OAUTHCLIENT"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "client",
		Short:         "Demo OAuth 2.0 client for the authorization code flow",
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
	flags.String("listen", ":4000", "listen address")
	flags.String("provider-url", "http://localhost:3000", "authorization server base URL")
	flags.String("client-id", "abc123", "registered client ID")
	flags.String("client-secret", "sooper-secret", "registered client secret")
	flags.String("redirect-url", "http://localhost:4000/callback", "registered redirect URL")
	flags.Duration("request-timeout", client.DefaultRequestTimeout, "deadline for token exchange and resource fetch")
	flags.Duration("state-ttl", client.DefaultStateTTL, "how long a login link stays valid")
	flags.Int("max-pending-states", client.DefaultMaxPendingStates, "maximum outstanding login links before the oldest is dropped")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", cli.LogFormatText, "log format: text or json")

	return cmd
}

func buildConfig(v *viper.Viper) client.Config {
	return client.Config{
		ProviderURL:      v.GetString("provider-url"),
		ClientID:         v.GetString("client-id"),
		ClientSecret:     v.GetString("client-secret"),
		RedirectURL:      v.GetString("redirect-url"),
		RequestTimeout:   v.GetDuration("request-timeout"),
		StateTTL:         v.GetDuration("state-ttl"),
		MaxPendingStates: v.GetInt("max-pending-states"),
	}
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	logger, err := cli.NewLogger(os.Stderr, v.GetString("log-format"), v.GetString("log-level"))
	if err != nil {
		return err
	}

	cfg := buildConfig(v)
	cfg.Logger = logger
	driver, err := client.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.WithSignalCancel(cmd.Context())
	defer stop()

	mux := http.NewServeMux()
	driver.RegisterRoutes(mux)

	logger.Info("Starting OAuth client",
		"version", version,
		"provider_url", cfg.ProviderURL,
		"client_id", cfg.ClientID,
		"redirect_url", cfg.RedirectURL)

	return cli.Serve(ctx, cli.NewHTTPServer(v.GetString("listen"), security.RequestIDMiddleware(mux)), logger)
}
