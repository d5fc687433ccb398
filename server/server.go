package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

// maxIssueAttempts bounds retries when a generated code or token collides
const maxIssueAttempts = 3

// Server implements the authorization code grant on top of the storage interfaces
type Server struct {
	clientStore storage.ClientStore
	userStore   storage.UserStore
	codeStore   storage.CodeStore
	tokenStore  storage.TokenStore

	tokenGenerator security.TokenGenerator
	now            func() time.Time

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// New creates a new authorization server
func New(
	clientStore storage.ClientStore,
	userStore storage.UserStore,
	codeStore storage.CodeStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if codeStore == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := validateIssuer(config, logger); err != nil {
		return nil, err
	}

	return &Server{
		clientStore:    clientStore,
		userStore:      userStore,
		codeStore:      codeStore,
		tokenStore:     tokenStore,
		tokenGenerator: security.DefaultTokenGenerator,
		now:            time.Now,
		Config:         config,
		Logger:         logger,
	}, nil
}

// auditor returns the auditor tagged with the request ID carried by ctx
func (s *Server) auditor(ctx context.Context) *security.Auditor {
	return s.Auditor.WithRequestID(security.GetRequestID(ctx))
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables tracing and metrics for server operations
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.tracer = nil
		s.metrics = nil
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
}

// SetTokenGenerator replaces the generator used for codes and access tokens.
// A nil generator restores the default.
func (s *Server) SetTokenGenerator(gen security.TokenGenerator) {
	if gen == nil {
		gen = security.DefaultTokenGenerator
	}
	s.tokenGenerator = gen
}

// SetClock replaces the time source used for issuance and expiry checks
func (s *Server) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// startSpan starts a server span when tracing is configured. The returned
// span may be nil; the instrumentation helpers accept that.
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}
