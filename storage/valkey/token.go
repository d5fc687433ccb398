package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/storage"
)

// accessTokenJSON is the stored representation of an access token.
type accessTokenJSON struct {
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// SaveAccessToken stores a token with SET NX. The key is kept for the grace
// period past expiry so the caller can report expiry rather than not found.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_access_token", err, startTime) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("access token is required")
	}

	key := s.tokenKey(token.Token)
	data, err := json.Marshal(&accessTokenJSON{
		ClientID:  token.ClientID,
		Username:  token.Username,
		IssuedAt:  token.IssuedAt.Unix(),
		ExpiresAt: token.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}
	if len(data) > MaxPayloadSize {
		return fmt.Errorf("access token payload exceeds %d bytes", MaxPayloadSize)
	}
	data, err = s.seal(key, data)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	ttl := max(calculateTTL(token.ExpiresAt.Add(s.tokenGrace), s.now()), time.Second)

	err = s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Nx().Ex(ttl).Build(),
	).Error()
	if isNilError(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	s.logger.Debug("Saved access token",
		"client_id", token.ClientID,
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetAccessToken returns a stored token. Expiry is checked by the caller.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_access_token", err, startTime) }()

	if token == "" {
		return nil, storage.ErrTokenNotFound
	}

	key := s.tokenKey(token)
	result, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if isNilError(err) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	data, err := s.open(key, []byte(result))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	var j accessTokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	return &storage.AccessToken{
		Token:     token,
		ClientID:  j.ClientID,
		Username:  j.Username,
		IssuedAt:  time.Unix(j.IssuedAt, 0),
		ExpiresAt: time.Unix(j.ExpiresAt, 0),
	}, nil
}
