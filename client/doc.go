// Package client implements the relying party half of the authorization code
// flow as a small web application.
//
// GET / issues a one-time state value and links to the provider's
// authorization endpoint. GET /callback checks the state, exchanges the code
// at the token endpoint with golang.org/x/oauth2 (credentials sent in the form
// body) and fetches the protected resource with the bearer token.
package client
