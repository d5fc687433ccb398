package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations.
// Callers should match them with errors.Is; implementations may wrap them.
var (
	// ErrClientNotFound is returned when a client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientCredentials is returned when a client secret does not match
	ErrInvalidClientCredentials = errors.New("invalid client credentials")

	// ErrInvalidUserCredentials is returned when a username/password pair does not match
	ErrInvalidUserCredentials = errors.New("invalid resource owner credentials")

	// ErrAuthorizationCodeNotFound is returned for unknown or already redeemed codes
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeExpired is returned when a code is redeemed after its expiry
	ErrAuthorizationCodeExpired = errors.New("authorization code expired")

	// ErrTokenNotFound is returned when an access token is not known to the store
	ErrTokenNotFound = errors.New("access token not found")

	// ErrTokenExpired is returned when an access token is past its expiry
	ErrTokenExpired = errors.New("access token expired")

	// ErrAlreadyExists is returned when an insert collides with an existing key.
	// Issuers generate a fresh identifier and retry.
	ErrAlreadyExists = errors.New("key already exists")
)

// Client is a registered OAuth client. Clients are immutable once loaded.
type Client struct {
	// ClientID is the public client identifier
	ClientID string

	// ClientSecretHash is the bcrypt hash of the client secret.
	// The plaintext secret is never retained.
	ClientSecretHash string

	// RedirectURIs is the set of callback URIs the client may use.
	// Matching is exact and case-sensitive.
	RedirectURIs []string

	// ClientName is an optional human readable name shown on the login page
	ClientName string

	// CreatedAt is when the client was loaded into the registry
	CreatedAt time.Time
}

// HasRedirectURI reports whether uri is a member of the client's registered set.
// No prefix, path, or trailing-slash normalisation is applied.
func (c *Client) HasRedirectURI(uri string) bool {
	if c == nil || uri == "" {
		return false
	}
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// ResourceOwner is a user able to approve authorization requests.
type ResourceOwner struct {
	Username     string
	PasswordHash string
}

// AuthorizationGrant is the context bound to an issued authorization code.
// It is consumed exactly once by RedeemAuthorizationCode.
type AuthorizationGrant struct {
	Code        string
	ClientID    string
	RedirectURI string
	Username    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the grant is past its expiry at the given instant.
// A zero ExpiresAt never expires.
func (g *AuthorizationGrant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

// AccessToken is an issued bearer token and the identity it authorizes.
type AccessToken struct {
	Token     string
	ClientID  string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ClientStore resolves registered clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// GetClient returns the client with the given ID or ErrClientNotFound
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret returns the client if clientID is registered and
	// secret matches its hash. The comparison must run in constant time and
	// must take comparable time whether or not the client exists.
	ValidateClientSecret(ctx context.Context, clientID, secret string) (*Client, error)
}

// UserStore authenticates resource owners.
type UserStore interface {
	// AuthenticateResourceOwner returns the resource owner if the username and
	// password match exactly, or ErrInvalidUserCredentials otherwise.
	AuthenticateResourceOwner(ctx context.Context, username, password string) (*ResourceOwner, error)
}

// CodeStore holds issued authorization codes until they are redeemed or expire.
type CodeStore interface {
	// SaveAuthorizationCode stores the grant under grant.Code. It must be an
	// atomic insert-if-absent and return ErrAlreadyExists on collision.
	SaveAuthorizationCode(ctx context.Context, grant *AuthorizationGrant) error

	// RedeemAuthorizationCode atomically looks up and deletes a code.
	// SECURITY: lookup and delete MUST be one step so a code cannot be
	// redeemed twice by concurrent requests.
	// Returns ErrAuthorizationCodeNotFound for unknown or already redeemed
	// codes and ErrAuthorizationCodeExpired for expired ones (which are deleted).
	RedeemAuthorizationCode(ctx context.Context, code string) (*AuthorizationGrant, error)
}

// TokenStore holds issued access tokens. There is no deletion path.
type TokenStore interface {
	// SaveAccessToken stores the token. It must be an atomic insert-if-absent
	// and return ErrAlreadyExists on collision.
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken returns the stored token or ErrTokenNotFound.
	// Expiry is checked by the caller.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)
}
