package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/server"
	"github.com/giantswarm/oauth-authcode/storage"
)

const (
	tokenTypeBearer = "Bearer"

	// retryAfterSeconds is advertised on rate limited responses
	retryAfterSeconds = "60"

	// maxFormBytes bounds urlencoded request bodies
	maxFormBytes = 64 * 1024
)

// loginTemplate is the resource owner login form served by GET /authorize.
// html/template escapes every echoed parameter for its attribute context.
var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Login</title>
</head>
<body>
<h2>Login</h2>
{{if .ClientName}}<p>{{.ClientName}} is requesting access to your account.</p>{{end}}
<form method="POST" action="/authorize">
  <input type="hidden" name="client_id" value="{{.ClientID}}" />
  <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}" />
  <input type="hidden" name="response_type" value="{{.ResponseType}}" />
  <input type="hidden" name="state" value="{{.State}}" />
  <label>Username: <input type="text" name="username" autocomplete="username" /></label><br />
  <label>Password: <input type="password" name="password" autocomplete="current-password" /></label><br />
  <button type="submit">Authorize</button>
</form>
</body>
</html>
`))

type loginPageData struct {
	ClientName   string
	ClientID     string
	RedirectURI  string
	ResponseType string
	State        string
}

// Handler is a thin HTTP adapter for the authorization server.
// It parses requests and delegates to server.Server for the flow logic.
type Handler struct {
	server      *server.Server
	rateLimiter *security.RateLimiter
	logger      *slog.Logger
	tracer      trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler. rateLimiter may be nil.
func NewHandler(srv *server.Server, rateLimiter *security.RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server:      srv,
		rateLimiter: rateLimiter,
		logger:      logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// ServeAuthorize handles GET (render login form) and POST (submit credentials) on /authorize
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.serveAuthorizeForm(w, r)
	case http.MethodPost:
		h.serveAuthorizeSubmit(w, r)
	default:
		h.methodNotAllowed(w, "authorize", r.Method, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) serveAuthorizeForm(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "oauth.http.authorize")
	defer endSpan(span)

	clientIP := h.clientIP(r)
	if h.checkRateLimit(ctx, w, clientIP, "authorize") {
		h.recordHTTPMetrics(span, "authorize", http.MethodGet, http.StatusTooManyRequests, startTime)
		return
	}

	query := r.URL.Query()
	req := &server.AuthorizationRequest{
		ClientID:     query.Get("client_id"),
		RedirectURI:  query.Get("redirect_uri"),
		ResponseType: query.Get("response_type"),
		State:        query.Get("state"),
		ClientIP:     clientIP,
	}
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrHTTPMethod, http.MethodGet),
	)

	client, err := h.server.ValidateAuthorizationRequest(ctx, req)
	if err != nil {
		status := h.writeFlowError(w, err)
		h.logFlowError(ctx, "Authorization request rejected", err, req.ClientID, clientIP)
		h.recordHTTPMetrics(span, "authorize", http.MethodGet, status, startTime)
		instrumentation.SetSpanError(span, "authorization request rejected")
		return
	}

	var buf bytes.Buffer
	err = loginTemplate.Execute(&buf, loginPageData{
		ClientName:   client.ClientName,
		ClientID:     req.ClientID,
		RedirectURI:  req.RedirectURI,
		ResponseType: req.ResponseType,
		State:        req.State,
	})
	if err != nil {
		h.requestLogger(ctx).Error("Failed to render login form", "error", err)
		status := h.writeOAuthError(w, ErrServerError("Failed to render login form"))
		h.recordHTTPMetrics(span, "authorize", http.MethodGet, status, startTime)
		instrumentation.RecordError(span, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())

	h.recordHTTPMetrics(span, "authorize", http.MethodGet, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
}

func (h *Handler) serveAuthorizeSubmit(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "oauth.http.authorize")
	defer endSpan(span)

	clientIP := h.clientIP(r)
	if h.checkRateLimit(ctx, w, clientIP, "authorize") {
		h.recordHTTPMetrics(span, "authorize", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	if err := h.parseForm(w, r); err != nil {
		status := h.writeOAuthError(w, ErrInvalidRequest("Failed to parse request"))
		h.recordHTTPMetrics(span, "authorize", http.MethodPost, status, startTime)
		instrumentation.SetSpanError(span, "form parse failed")
		return
	}

	req := &server.AuthorizationRequest{
		ClientID:     r.PostFormValue("client_id"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ResponseType: r.PostFormValue("response_type"),
		State:        r.PostFormValue("state"),
		ClientIP:     clientIP,
	}
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrHTTPMethod, http.MethodPost),
	)

	redirectURL, err := h.server.Authorize(ctx, req, r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		// SECURITY: never redirect on failure; the redirect URI may be attacker supplied
		status := h.writeFlowError(w, err)
		h.logFlowError(ctx, "Authorization failed", err, req.ClientID, clientIP)
		h.recordHTTPMetrics(span, "authorize", http.MethodPost, status, startTime)
		instrumentation.SetSpanError(span, "authorization failed")
		return
	}

	h.requestLogger(ctx).Info("Authorization code issued", "client_id", req.ClientID, "ip", clientIP)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, redirectURL, http.StatusFound)

	h.recordHTTPMetrics(span, "authorize", http.MethodPost, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
}

// ServeToken handles the token endpoint (authorization_code grant only)
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, "token", r.Method, http.MethodPost)
		return
	}

	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "oauth.http.token")
	defer endSpan(span)

	clientIP := h.clientIP(r)
	if h.checkRateLimit(ctx, w, clientIP, "token") {
		h.recordHTTPMetrics(span, "token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	if err := h.parseForm(w, r); err != nil {
		status := h.writeOAuthError(w, ErrInvalidRequest("Failed to parse request"))
		h.recordHTTPMetrics(span, "token", http.MethodPost, status, startTime)
		instrumentation.SetSpanError(span, "form parse failed")
		return
	}

	req := &server.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		ClientIP:     clientIP,
	}
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
	)

	token, err := h.server.ExchangeAuthorizationCode(ctx, req)
	if err != nil {
		// SECURITY: don't leak internal error details to the client.
		// Audit logging is done in ExchangeAuthorizationCode.
		status := h.writeFlowError(w, err)
		h.logFlowError(ctx, "Token exchange failed", err, req.ClientID, clientIP)
		h.recordHTTPMetrics(span, "token", http.MethodPost, status, startTime)
		instrumentation.SetSpanError(span, "code exchange failed")
		return
	}

	h.requestLogger(ctx).Info("Token exchange successful", "client_id", token.ClientID, "ip", clientIP)
	h.writeTokenResponse(w, token)

	h.recordHTTPMetrics(span, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
}

// ServeResource handles the protected resource endpoint
func (h *Handler) ServeResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, "resource", r.Method, http.MethodGet)
		return
	}

	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "oauth.http.resource")
	defer endSpan(span)

	clientIP := h.clientIP(r)
	if h.checkRateLimit(ctx, w, clientIP, "resource") {
		h.recordHTTPMetrics(span, "resource", http.MethodGet, http.StatusTooManyRequests, startTime)
		return
	}

	accessToken, err := extractBearerToken(r)
	if err == nil {
		var token *storage.AccessToken
		token, err = h.server.ValidateToken(ctx, accessToken)
		if err == nil {
			instrumentation.AddOAuthFlowAttributes(span, token.ClientID, "")
			h.writeJSON(w, http.StatusOK, ResourceResponse{
				Message: fmt.Sprintf("Hello, %s! This is your protected resource.", token.Username),
			})
			h.recordHTTPMetrics(span, "resource", http.MethodGet, http.StatusOK, startTime)
			instrumentation.SetSpanSuccess(span)
			return
		}
	}

	if !errors.Is(err, server.ErrMissingAuthorization) {
		h.requestLogger(ctx).Debug("Resource request rejected",
			"ip", clientIP,
			"token_prefix", util.SafeTruncate(accessToken, 8),
			"error", err)
		if errors.Is(err, server.ErrInvalidToken) {
			h.server.Auditor.WithRequestID(security.GetRequestID(ctx)).LogTokenValidationFailed(clientIP, "invalid_token")
		}
	}
	status := h.writeFlowError(w, err)
	h.recordHTTPMetrics(span, "resource", http.MethodGet, status, startTime)
	instrumentation.SetSpanError(span, "token validation failed")
}

// ServeHealth reports liveness
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.methodNotAllowed(w, "healthz", r.Method, http.MethodGet, http.MethodHead)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// extractBearerToken returns the token from an "Authorization: Bearer <token>" header
func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", server.ErrMissingAuthorization
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, tokenTypeBearer) {
		return "", fmt.Errorf("%w: unsupported authorization scheme", server.ErrInvalidToken)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", server.ErrInvalidToken)
	}
	return token, nil
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	return r.ParseForm()
}

// checkRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkRateLimit(ctx context.Context, w http.ResponseWriter, clientIP, endpoint string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.requestLogger(ctx).Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, endpoint)
	}
	h.server.Auditor.WithRequestID(security.GetRequestID(ctx)).LogRateLimitExceeded(clientIP, endpoint)

	w.Header().Set("Retry-After", retryAfterSeconds)
	h.writeOAuthError(w, ErrRateLimitExceeded("Rate limit exceeded. Please try again later."))
	return true
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, endpoint, method string, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	h.recordHTTPMetrics(nil, endpoint, method, http.StatusMethodNotAllowed, time.Now())
}

func (h *Handler) logFlowError(ctx context.Context, msg string, err error, clientID, clientIP string) {
	logger := h.requestLogger(ctx)
	oauthErr := toOAuthError(err)
	if oauthErr.Status >= http.StatusInternalServerError {
		logger.Error(msg, "client_id", clientID, "ip", clientIP, "error", err)
		return
	}
	logger.Info(msg, "client_id", clientID, "ip", clientIP, "error_code", oauthErr.Code)
}

// requestLogger tags log lines with the X-Request-ID of the request in ctx
func (h *Handler) requestLogger(ctx context.Context) *slog.Logger {
	if requestID := security.GetRequestID(ctx); requestID != "" {
		return h.logger.With("request_id", requestID)
	}
	return h.logger
}

// writeFlowError maps err to its OAuth error and writes it. Returns the status written.
func (h *Handler) writeFlowError(w http.ResponseWriter, err error) int {
	return h.writeOAuthError(w, toOAuthError(err))
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, oauthErr *OAuthError) int {
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(oauthErr.Code, oauthErr.Description))
	}
	h.writeJSON(w, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
	return oauthErr.Status
}

// formatWWWAuthenticate builds an RFC 6750 challenge
func formatWWWAuthenticate(code, description string) string {
	description = strings.ReplaceAll(description, `"`, `'`)
	return fmt.Sprintf(`%s error="%s", error_description="%s"`, tokenTypeBearer, code, description)
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *storage.AccessToken) {
	expiresIn := int64(token.ExpiresAt.Sub(token.IssuedAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token.Token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   expiresIn,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return ctx, nil
	}
	return h.tracer.Start(ctx, name)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

func (h *Handler) recordHTTPMetrics(span trace.Span, endpoint, method string, status int, startTime time.Time) {
	instrumentation.AddHTTPAttributes(span, method, endpoint, status)
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}
