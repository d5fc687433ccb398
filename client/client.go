package client

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/security"
)

const (
	// DefaultRequestTimeout bounds the token exchange and resource fetch together
	DefaultRequestTimeout = 10 * time.Second

	// maxResourceBytes bounds the protected resource body passed through to the browser
	maxResourceBytes = 1 << 20

	genericErrorMessage = "An error occurred"
)

// errProviderStatus is returned when the resource endpoint answers with a non-2xx status
var errProviderStatus = errors.New("unexpected provider status")

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>OAuth Client</title></head>
<body>
<a href="{{.AuthURL}}">Login with OAuth Provider</a>
</body>
</html>
`))

// Config configures the client driver
type Config struct {
	// ProviderURL is the authorization server base URL, e.g. "http://localhost:3000"
	ProviderURL string

	// ClientID and ClientSecret are the registered client credentials
	ClientID     string
	ClientSecret string

	// RedirectURL is this client's registered callback, e.g. "http://localhost:4000/callback"
	RedirectURL string

	// RequestTimeout is the deadline shared by the token exchange and the
	// resource fetch. Default: 10 seconds
	RequestTimeout time.Duration

	// StateTTL is how long a state value stays redeemable. Default: 10 minutes
	StateTTL time.Duration

	// MaxPendingStates caps outstanding login links. Default: 10000
	MaxPendingStates int

	// HTTPClient is used for calls to the provider (optional)
	HTTPClient *http.Client

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// Driver is the relying party side of the authorization code flow.
// It starts the flow, checks state on callback, exchanges the code and
// fetches the protected resource.
type Driver struct {
	oauth       *oauth2.Config
	resourceURL string
	states      *StateStore
	generator   security.TokenGenerator
	httpClient  *http.Client
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a Driver
func New(cfg Config) (*Driver, error) {
	if cfg.ProviderURL == "" {
		return nil, fmt.Errorf("provider URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.ProviderURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("provider URL must be an absolute URL: %q", cfg.ProviderURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Driver{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base.JoinPath("authorize").String(),
				TokenURL:  base.JoinPath("token").String(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		resourceURL: base.JoinPath("resource").String(),
		states:      NewStateStore(cfg.StateTTL, cfg.MaxPendingStates),
		generator:   security.DefaultTokenGenerator,
		httpClient:  cfg.HTTPClient,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// SetTokenGenerator replaces the state generator. A nil generator restores the default.
func (d *Driver) SetTokenGenerator(gen security.TokenGenerator) {
	if gen == nil {
		gen = security.DefaultTokenGenerator
	}
	d.generator = gen
}

// States exposes the outstanding state store
func (d *Driver) States() *StateStore {
	return d.states
}

// RegisterRoutes registers the index and callback pages on mux.
// The callback path is taken from the configured redirect URL.
func (d *Driver) RegisterRoutes(mux *http.ServeMux) {
	callbackPath := "/callback"
	if u, err := url.Parse(d.oauth.RedirectURL); err == nil && u.Path != "" {
		callbackPath = u.Path
	}
	mux.HandleFunc("/{$}", d.ServeIndex)
	mux.HandleFunc(callbackPath, d.ServeCallback)
}

// ServeIndex issues a state value and renders a link to the authorization endpoint
func (d *Driver) ServeIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := d.generator.Generate()
	sessionID := d.states.Save(state)
	authURL := d.oauth.AuthCodeURL(state)

	d.requestLogger(r).Debug("Starting authorization", "session_id", sessionID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := indexTemplate.Execute(w, struct{ AuthURL string }{authURL}); err != nil {
		d.requestLogger(r).Error("Failed to render index page", "error", err)
	}
}

func (d *Driver) requestLogger(r *http.Request) *slog.Logger {
	if requestID := security.GetRequestID(r.Context()); requestID != "" {
		return d.logger.With("request_id", requestID)
	}
	return d.logger
}

// ServeCallback completes the flow: it consumes the state, exchanges the code
// for a token and passes the protected resource through to the browser.
// Every provider failure is reported as a generic 500.
func (d *Driver) ServeCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Missing code or state in query parameters", http.StatusBadRequest)
		return
	}

	sessionID, ok := d.states.Consume(state)
	if !ok {
		d.requestLogger(r).Warn("Callback with unknown or reused state",
			"state_prefix", util.SafeTruncate(state, 8))
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.timeout)
	defer cancel()
	if d.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	}

	body, contentType, err := d.fetchResource(ctx, code)
	if err != nil {
		d.requestLogger(r).Error("Authorization callback failed", "session_id", sessionID, "error", err)
		http.Error(w, genericErrorMessage, http.StatusInternalServerError)
		return
	}

	d.requestLogger(r).Info("Fetched protected resource", "session_id", sessionID)
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// fetchResource exchanges code for an access token and GETs the resource with it
func (d *Driver) fetchResource(ctx context.Context, code string) ([]byte, string, error) {
	token, err := d.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.resourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build resource request: %w", err)
	}

	resp, err := d.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch resource: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: resource returned %d", errProviderStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read resource: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
