// Package storage provides the interfaces and shared types for the authorization
// server's state.
//
// The storage package defines four interfaces:
//   - ClientStore: resolves registered clients and validates client secrets
//   - UserStore: authenticates resource owners
//   - CodeStore: one-time authorization codes with atomic redemption
//   - TokenStore: issued access tokens
//
// ClientStore and UserStore together form the registry, which is read-only
// after startup. CodeStore and TokenStore are shared mutable state and must
// provide atomic insert-if-absent and (for codes) atomic get-and-delete.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory registry and code/token store
//   - storage/mock: function-field mocks for unit testing
//   - storage/valkey: Valkey/Redis-compatible distributed code/token store
package storage
