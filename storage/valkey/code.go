package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/storage"
)

// grantJSON is the stored representation of an authorization grant.
// The code itself is not stored; the key is derived from its hash.
type grantJSON struct {
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Username    string `json:"username"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

func toGrantJSON(g *storage.AuthorizationGrant) *grantJSON {
	return &grantJSON{
		ClientID:    g.ClientID,
		RedirectURI: g.RedirectURI,
		Username:    g.Username,
		CreatedAt:   g.CreatedAt.Unix(),
		ExpiresAt:   g.ExpiresAt.Unix(),
	}
}

func fromGrantJSON(code string, j *grantJSON) *storage.AuthorizationGrant {
	return &storage.AuthorizationGrant{
		Code:        code,
		ClientID:    j.ClientID,
		RedirectURI: j.RedirectURI,
		Username:    j.Username,
		CreatedAt:   time.Unix(j.CreatedAt, 0),
		ExpiresAt:   time.Unix(j.ExpiresAt, 0),
	}
}

// SaveAuthorizationCode stores a grant with SET NX. The key expires with the code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, grant *storage.AuthorizationGrant) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime) }()

	if grant == nil || grant.Code == "" {
		return fmt.Errorf("authorization code is required")
	}

	key := s.codeKey(grant.Code)
	data, err := json.Marshal(toGrantJSON(grant))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	data, err = s.seal(key, data)
	if err != nil {
		return fmt.Errorf("failed to encrypt authorization code: %w", err)
	}

	ttl := max(calculateTTL(grant.ExpiresAt, s.now()), time.Second)

	err = s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Nx().Ex(ttl).Build(),
	).Error()
	if isNilError(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"client_id", grant.ClientID,
		"code_prefix", util.SafeTruncate(grant.Code, tokenIDLogLength))
	return nil
}

// RedeemAuthorizationCode atomically reads and deletes a code with a Lua script.
// SECURITY: only one concurrent caller receives the grant.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationGrant, err error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "redeem_authorization_code", err, startTime) }()

	if code == "" {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	key := s.codeKey(code)
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaGetAndDelete).
			Numkeys(1).
			Key(key).
			Build(),
	).ToString()
	if isNilError(err) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code redemption: %w", err)
	}

	data, err := s.open(key, []byte(result))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt authorization code: %w", err)
	}

	var j grantJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	grant := fromGrantJSON(code, &j)
	if grant.Expired(s.now()) {
		s.logger.Debug("Expired authorization code redeemed",
			"client_id", grant.ClientID,
			"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
		return nil, storage.ErrAuthorizationCodeExpired
	}

	return grant, nil
}
