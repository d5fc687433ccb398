// Package oauth provides an OAuth 2.0 authorization server implementing the
// authorization code grant with a login form, a token endpoint and a bearer
// protected resource.
//
// NewServer wires the registry, code and token storage, instrumentation and
// rate limiting; RegisterRoutes mounts the endpoints on an http.ServeMux.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/server"
	"github.com/giantswarm/oauth-authcode/storage"
	"github.com/giantswarm/oauth-authcode/storage/memory"
	"github.com/giantswarm/oauth-authcode/storage/valkey"
)

// Server wires the registry, the code and token stores, the flow logic and
// the HTTP handler into a runnable authorization server.
type Server struct {
	// Core runs the authorization code grant
	Core *server.Server

	// Handler serves the HTTP endpoints
	Handler *Handler

	// Registry is the read-only client and user registry
	Registry *memory.Registry

	// Instrumentation is always non-nil; it uses noop providers when disabled
	Instrumentation *instrumentation.Instrumentation

	rateLimiter *security.RateLimiter
	memStore    *memory.Store
	valkeyStore *valkey.Store
	logger      *slog.Logger
}

// NewServer builds a Server from configuration
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := newRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded registry",
		"clients", len(registry.ClientIDs()),
		"users", registry.UserCount())

	inst, err := instrumentation.New(cfg.Instrumentation)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	s := &Server{
		Registry:        registry,
		Instrumentation: inst,
		logger:          logger,
	}

	var codes storage.CodeStore
	var tokens storage.TokenStore
	if codes, tokens, err = s.openStorage(cfg); err != nil {
		_ = inst.Shutdown(context.Background())
		return nil, err
	}

	serverCfg := cfg.Server
	core, err := server.New(registry, registry, codes, tokens, &serverCfg, logger)
	if err != nil {
		s.closeStorage()
		_ = inst.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	core.SetAuditor(security.NewAuditor(logger, cfg.Security.EnableAuditLogging))
	core.SetInstrumentation(inst)
	s.Core = core

	if s.memStore != nil {
		s.memStore.SetTokenGracePeriod(core.Config.ClockSkewGracePeriodDuration())
	}
	if s.valkeyStore != nil {
		s.valkeyStore.SetTokenGracePeriod(core.Config.ClockSkewGracePeriodDuration())
	}

	if cfg.RateLimit.Rate > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = cfg.RateLimit.Rate
		}
		maxEntries := cfg.RateLimit.MaxEntries
		if maxEntries <= 0 {
			maxEntries = security.DefaultMaxLimiters
		}
		s.rateLimiter = security.NewRateLimiterWithConfig(cfg.RateLimit.Rate, burst, maxEntries, logger)
		if err := inst.RegisterRateLimiterCallback(func() int64 {
			return int64(s.rateLimiter.GetStats().CurrentEntries)
		}); err != nil {
			logger.Warn("Failed to register rate limiter callback", "error", err)
		}
	}

	s.Handler = NewHandler(core, s.rateLimiter, logger)
	return s, nil
}

func newRegistry(cfg RegistryConfig) (*memory.Registry, error) {
	var (
		registry *memory.Registry
		err      error
	)
	if cfg.BcryptCost > 0 {
		registry, err = memory.NewRegistryWithCost(cfg.Clients, cfg.Users, cfg.BcryptCost)
	} else {
		registry, err = memory.NewRegistry(cfg.Clients, cfg.Users)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return registry, nil
}

// openStorage creates the configured code and token store
func (s *Server) openStorage(cfg *Config) (storage.CodeStore, storage.TokenStore, error) {
	switch cfg.Storage.Backend {
	case "", StorageBackendMemory:
		store := memory.NewWithInterval(cfg.Storage.CleanupInterval)
		store.SetLogger(s.logger)
		store.SetInstrumentation(s.Instrumentation)
		s.memStore = store
		return store, store, nil

	case StorageBackendValkey:
		vcfg := cfg.Storage.Valkey
		if vcfg.Logger == nil {
			vcfg.Logger = s.logger
		}
		store, err := valkey.New(vcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open valkey storage: %w", err)
		}
		if len(cfg.Security.EncryptionKey) > 0 {
			enc, err := security.NewEncryptor(cfg.Security.EncryptionKey)
			if err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
			}
			store.SetEncryptor(enc)
		}
		store.SetInstrumentation(s.Instrumentation)
		s.valkeyStore = store
		return store, store, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

func (s *Server) closeStorage() {
	if s.memStore != nil {
		s.memStore.Stop()
	}
	if s.valkeyStore != nil {
		s.valkeyStore.Close()
	}
}

// RegisterRoutes registers the authorization server endpoints on mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/authorize", s.Handler.ServeAuthorize)
	mux.HandleFunc("/token", s.Handler.ServeToken)
	mux.HandleFunc("/resource", s.Handler.ServeResource)
	mux.HandleFunc("/healthz", s.Handler.ServeHealth)
	mux.Handle("/metrics", s.Instrumentation.PrometheusHandler())
}

// Shutdown stops background work, closes storage and flushes telemetry
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.closeStorage()

	var errs []error
	if err := s.Instrumentation.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down instrumentation: %w", err))
	}
	return errors.Join(errs...)
}
