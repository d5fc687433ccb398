// Package valkey provides a Valkey storage backend for authorization codes
// and access tokens.
//
// Valkey is wire-compatible with Redis. Sharing one keyspace lets several
// authorization server replicas issue and redeem codes consistently.
//
// # Implemented Interfaces
//
//   - [storage.CodeStore]: authorization codes with atomic redemption
//   - [storage.TokenStore]: issued access tokens
//
// The registry (clients and resource owners) stays in memory; see storage/memory.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:"). Codes and tokens are
// never used as keys directly; the key is the hex SHA-256 of the credential:
//
//	{prefix}code:{sha256(code)}    -> JSON(grant)  (TTL = code lifetime)
//	{prefix}token:{sha256(token)}  -> JSON(token)  (TTL = token lifetime + grace)
//
// # Atomicity
//
// Inserts use SET NX so identifier collisions surface as
// [storage.ErrAlreadyExists]. Redemption runs GET and DEL inside one Lua
// script, so concurrent redemptions of the same code yield exactly one winner.
//
// # Encryption at Rest
//
// With [Store.SetEncryptor], payloads are sealed with AES-256-GCM using the
// storage key as additional authenticated data.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//		Address:   "localhost:6379",
//		KeyPrefix: "oauth:",
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package valkey
