// Package memory provides in-memory storage for the authorization server.
//
// Registry is the read-only ClientStore and UserStore. It is built once from
// client and user definitions, hashing plaintext secrets with bcrypt, and
// rejects duplicate or incomplete entries at load time.
//
// Store is the CodeStore and TokenStore. It keeps codes and tokens in maps
// guarded by a single sync.RWMutex; redemption looks up and deletes a code
// under one write lock. A background goroutine purges expired entries.
//
// For multi-instance deployments use storage/valkey instead.
//
//	registry, err := memory.NewRegistry(clients, users)
//	if err != nil {
//	    return err
//	}
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(registry, registry, store, store, config, logger)
package memory
