// Package server implements the authorization code grant.
//
// Server coordinates the registry (clients and resource owners), the code
// store and the token store:
//
//   - ValidateAuthorizationRequest checks the client and its exact redirect URI.
//   - Authorize authenticates the resource owner and issues a single-use code
//     bound to (client_id, redirect_uri, username), returning the redirect URL.
//   - ExchangeAuthorizationCode authenticates the client, atomically redeems
//     the code, checks its binding and issues a bearer access token.
//   - ValidateToken resolves a bearer token to the identity it was issued for.
//
// Codes are redeemed before their binding is checked, so a request with the
// wrong client or redirect URI still consumes the code. A wrong client secret
// is rejected before redemption and leaves the code intact.
//
// Example:
//
//	registry, _ := memory.NewRegistry(clients, users)
//	store := memory.New()
//
//	srv, err := server.New(registry, registry, store, store, &server.Config{
//	    Issuer: "http://localhost:3000",
//	}, logger)
//	if err != nil {
//	    return err
//	}
package server
