package server

// Protocol values accepted by the endpoints
const (
	ResponseTypeCode           = "code"
	GrantTypeAuthorizationCode = "authorization_code"
	TokenTypeBearer            = "Bearer"
)

// AuthorizationRequest carries the parameters of GET and POST /authorize
type AuthorizationRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string

	// State is opaque to the server and echoed back verbatim
	State string

	// ClientIP is used for audit logging only
	ClientIP string
}

// TokenRequest carries the parameters of POST /token
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string

	// ClientIP is used for audit logging only
	ClientIP string
}
