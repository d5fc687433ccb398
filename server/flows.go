package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

// ValidateAuthorizationRequest checks that the client exists and that the
// redirect URI is one of its registered URIs. It is the first step of the
// authorization endpoint, before credentials are collected.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (*storage.Client, error) {
	ctx, span := s.startSpan(ctx, "oauth.server.validate_authorization_request")
	defer endSpan(span)

	client, err := s.resolveClient(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "")
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
		attribute.Bool(instrumentation.AttrStatePresent, req.State != ""),
	)

	s.metrics.RecordAuthorizationStarted(ctx, client.ClientID)
	s.auditor(ctx).LogEvent(security.Event{
		Type:      security.EventAuthorizationRequestValidated,
		ClientID:  client.ClientID,
		IPAddress: req.ClientIP,
	})

	instrumentation.SetSpanSuccess(span)
	return client, nil
}

// resolveClient looks up the client and checks the redirect URI by exact match
func (s *Server) resolveClient(ctx context.Context, req *AuthorizationRequest) (*storage.Client, error) {
	if req == nil || req.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", ErrInvalidClient)
	}

	client, err := s.clientStore.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.Logger.Debug("Authorization request for unknown client", "client_id", req.ClientID)
			s.auditor(ctx).LogAuthFailure("", req.ClientID, req.ClientIP, "unknown_client")
			return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
		}
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		s.Logger.Debug("Authorization request with unregistered redirect URI",
			"client_id", client.ClientID,
			"redirect_uri", req.RedirectURI)
		s.auditor(ctx).LogInvalidRedirect(client.ClientID, req.ClientIP, req.RedirectURI)
		return nil, fmt.Errorf("%w: redirect_uri is not registered for this client", ErrInvalidRedirectURI)
	}

	return client, nil
}

// Authorize handles the credential submission of the authorization endpoint.
// It re-validates the client and redirect URI, authenticates the resource
// owner, checks the response type, issues a code and returns the URL the
// user agent should be redirected to.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, username, password string) (string, error) {
	ctx, span := s.startSpan(ctx, "oauth.server.authorize")
	defer endSpan(span)

	// The submitted form could bypass the first step, so check everything again
	client, err := s.resolveClient(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "")

	owner, err := s.userStore.AuthenticateResourceOwner(ctx, username, password)
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidUserCredentials) {
			instrumentation.RecordError(span, err)
			return "", fmt.Errorf("failed to authenticate resource owner: %w", err)
		}
		s.auditor(ctx).LogAuthFailure(username, client.ClientID, req.ClientIP, "invalid_user_credentials")
		instrumentation.SetSpanError(span, "invalid credentials")
		return "", ErrInvalidCredentials
	}
	instrumentation.AddOAuthFlowAttributes(span, "", owner.Username)

	if req.ResponseType != ResponseTypeCode {
		s.auditor(ctx).LogAuthFailure(owner.Username, client.ClientID, req.ClientIP, "unsupported_response_type")
		instrumentation.SetSpanError(span, "unsupported response type")
		return "", fmt.Errorf("%w: %q", ErrUnsupportedResponseType, req.ResponseType)
	}

	grant, err := s.issueAuthorizationCode(ctx, client.ClientID, req.RedirectURI, owner.Username)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}

	redirectURL, err := buildRedirectURL(req.RedirectURI, grant.Code, req.State)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}

	s.Logger.Info("Authorization code issued",
		"client_id", client.ClientID,
		"code_prefix", util.SafeTruncate(grant.Code, 8))
	s.auditor(ctx).LogAuthorizationCodeIssued(owner.Username, client.ClientID, req.ClientIP)
	s.metrics.RecordCodeIssued(ctx, client.ClientID)

	instrumentation.SetSpanSuccess(span)
	return redirectURL, nil
}

// issueAuthorizationCode generates and stores a code, retrying on collision
func (s *Server) issueAuthorizationCode(ctx context.Context, clientID, redirectURI, username string) (*storage.AuthorizationGrant, error) {
	now := s.now()

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		grant := &storage.AuthorizationGrant{
			Code:        s.tokenGenerator.Generate(),
			ClientID:    clientID,
			RedirectURI: redirectURI,
			Username:    username,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.Config.AuthorizationCodeTTLDuration()),
		}

		err := s.codeStore.SaveAuthorizationCode(ctx, grant)
		if err == nil {
			return grant, nil
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to save authorization code: %w", err)
		}
		s.Logger.Warn("Generated authorization code collided, retrying", "attempt", attempt)
	}

	return nil, fmt.Errorf("failed to issue authorization code after %d attempts: %w", maxIssueAttempts, storage.ErrAlreadyExists)
}

// buildRedirectURL appends code and, when non-empty, state to the registered
// redirect URI. The registered query string is kept byte-for-byte.
func buildRedirectURL(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid registered redirect URI: %w", err)
	}

	params := url.Values{"code": {code}}
	if state != "" {
		params.Set("state", state)
	}
	if u.RawQuery == "" {
		u.RawQuery = params.Encode()
	} else {
		u.RawQuery += "&" + params.Encode()
	}

	return u.String(), nil
}

// ExchangeAuthorizationCode implements the token endpoint.
//
// Order matters: the client secret is checked before the code is touched, so
// a wrong secret leaves the code redeemable. The code is then redeemed
// atomically and only afterwards compared with the request's client and
// redirect URI, so a mismatch consumes it.
//
// Redemption and token issuance are separate store operations. If issuance
// fails the code is gone and no token exists.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*storage.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "oauth.server.exchange_authorization_code")
	defer endSpan(span)

	if req == nil {
		return nil, fmt.Errorf("%w: empty token request", ErrInvalidRequest)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))

	if req.GrantType != GrantTypeAuthorizationCode {
		instrumentation.SetSpanError(span, "unsupported grant type")
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrantType, req.GrantType)
	}

	client, err := s.clientStore.ValidateClientSecret(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidClientCredentials) && !errors.Is(err, storage.ErrClientNotFound) {
			instrumentation.RecordError(span, err)
			return nil, fmt.Errorf("failed to authenticate client: %w", err)
		}
		s.auditor(ctx).LogAuthFailure("", req.ClientID, req.ClientIP, "invalid_client_credentials")
		instrumentation.SetSpanError(span, "client authentication failed")
		return nil, fmt.Errorf("%w: client authentication failed", ErrInvalidClient)
	}
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "")

	if req.Code == "" {
		s.metrics.RecordCodeRedeemFailed(ctx, "not_found")
		instrumentation.SetSpanError(span, "code missing")
		return nil, fmt.Errorf("%w: code is required", ErrInvalidGrant)
	}

	// SECURITY: lookup and delete happen in one store operation, so concurrent
	// requests for the same code cannot both succeed
	grant, err := s.codeStore.RedeemAuthorizationCode(ctx, req.Code)
	if err != nil {
		var reason string
		switch {
		case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
			reason = "not_found"
		case errors.Is(err, storage.ErrAuthorizationCodeExpired):
			reason = "expired"
		default:
			instrumentation.RecordError(span, err)
			return nil, fmt.Errorf("failed to redeem authorization code: %w", err)
		}

		s.Logger.Debug("Authorization code redemption failed",
			"reason", reason,
			"client_id", client.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, 8))
		s.auditor(ctx).LogCodeRedeemFailed(client.ClientID, req.ClientIP, reason)
		s.metrics.RecordCodeRedeemFailed(ctx, reason)
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCodeRedeemed, false))
		instrumentation.SetSpanError(span, "invalid grant")
		return nil, ErrInvalidGrant
	}
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCodeRedeemed, true))

	// The code is consumed at this point whatever the outcome below
	if grant.ClientID != req.ClientID {
		s.Logger.Warn("Authorization code presented by a different client",
			"issued_client_id", grant.ClientID,
			"client_id", req.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, 8))
		s.auditor(ctx).LogCodeBindingMismatch(grant.Username, grant.ClientID, req.ClientID, req.ClientIP)
		s.metrics.RecordCodeRedeemFailed(ctx, "client_mismatch")
		instrumentation.SetSpanError(span, "client binding mismatch")
		return nil, ErrInvalidGrant
	}
	if grant.RedirectURI != req.RedirectURI {
		s.Logger.Warn("Authorization code presented with a different redirect URI",
			"client_id", req.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, 8))
		s.auditor(ctx).LogCodeBindingMismatch(grant.Username, grant.ClientID, req.ClientID, req.ClientIP)
		s.metrics.RecordCodeRedeemFailed(ctx, "redirect_mismatch")
		instrumentation.SetSpanError(span, "redirect uri binding mismatch")
		return nil, ErrInvalidGrant
	}

	token, err := s.issueAccessToken(ctx, grant.ClientID, grant.Username)
	if err != nil {
		s.Logger.Error("Failed to issue access token after code redemption",
			"client_id", grant.ClientID,
			"error", err)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, "", grant.Username)
	s.auditor(ctx).LogTokenIssued(grant.Username, grant.ClientID, req.ClientIP)
	s.metrics.RecordCodeExchange(ctx, grant.ClientID)

	instrumentation.SetSpanSuccess(span)
	return token, nil
}

// issueAccessToken generates and stores a token, retrying on collision
func (s *Server) issueAccessToken(ctx context.Context, clientID, username string) (*storage.AccessToken, error) {
	now := s.now()

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		token := &storage.AccessToken{
			Token:     s.tokenGenerator.Generate(),
			ClientID:  clientID,
			Username:  username,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.Config.AccessTokenTTLDuration()),
		}

		err := s.tokenStore.SaveAccessToken(ctx, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to save access token: %w", err)
		}
		s.Logger.Warn("Generated access token collided, retrying", "attempt", attempt)
	}

	return nil, fmt.Errorf("failed to issue access token after %d attempts: %w", maxIssueAttempts, storage.ErrAlreadyExists)
}

// ValidateToken resolves a bearer token to the token record it was issued as.
// Unknown and expired tokens both yield ErrInvalidToken.
func (s *Server) ValidateToken(ctx context.Context, accessToken string) (*storage.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "oauth.server.validate_token")
	defer endSpan(span)

	if accessToken == "" {
		s.metrics.RecordTokenValidation(ctx, "unknown")
		instrumentation.SetSpanError(span, "empty token")
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := s.tokenStore.GetAccessToken(ctx, accessToken)
	if err != nil {
		if !errors.Is(err, storage.ErrTokenNotFound) && !errors.Is(err, storage.ErrTokenExpired) {
			instrumentation.RecordError(span, err)
			return nil, fmt.Errorf("failed to look up access token: %w", err)
		}
		s.metrics.RecordTokenValidation(ctx, "unknown")
		s.Logger.Debug("Unknown access token presented", "token_prefix", util.SafeTruncate(accessToken, 8))
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenValid, false))
		instrumentation.SetSpanError(span, "unknown token")
		return nil, ErrInvalidToken
	}

	if security.IsExpiredAt(token.ExpiresAt, s.now(), s.Config.ClockSkewGracePeriodDuration()) {
		s.metrics.RecordTokenValidation(ctx, "expired")
		s.Logger.Debug("Expired access token presented",
			"client_id", token.ClientID,
			"token_prefix", util.SafeTruncate(accessToken, 8))
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenValid, false))
		instrumentation.SetSpanError(span, "token expired")
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	s.metrics.RecordTokenValidation(ctx, "valid")
	instrumentation.AddOAuthFlowAttributes(span, token.ClientID, token.Username)
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenValid, true))
	instrumentation.SetSpanSuccess(span)
	return token, nil
}
