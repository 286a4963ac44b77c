package auth

import (
	"net/http"

	"github.com/evogenom/ephemeral-auth/internal/auth/constants"
	"github.com/evogenom/ephemeral-auth/internal/auth/handlers"
	"github.com/evogenom/ephemeral-auth/internal/auth/middleware"
	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/tokens"
	"go.uber.org/fx"
)

// TokenService is what the HTTP surface needs from the token service.
type TokenService interface {
	handlers.Issuer
	middleware.Consumer
}

// Service exposes ephemeral token issuance and consumption over HTTP
type Service struct {
	cors    config.CORSConfig
	tokens  TokenService
	handler *handlers.Handler
}

// NewService creates a new auth service
func NewService(cors *config.CORSConfig, svc TokenService) *Service {
	return &Service{
		cors:    *cors,
		tokens:  svc,
		handler: handlers.NewHandler(svc),
	}
}

// RegisterRoutes registers the token and health routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(constants.TokenPath,
		middleware.MethodOnly(http.MethodPost, middleware.RequireBearer(http.HandlerFunc(s.handler.HandleIssueToken))))
	mux.Handle(constants.HandshakePath,
		middleware.MethodOnly(http.MethodGet, s.RequireEphemeralToken()(http.HandlerFunc(s.handler.HandleHandshake))))
	mux.Handle(constants.HealthPath,
		middleware.MethodOnly(http.MethodGet, http.HandlerFunc(s.handler.HandleHealth)))
}

// WrapWithMiddleware wraps the mux with recovery, request logging and CORS
func (s *Service) WrapWithMiddleware(handler http.Handler) http.Handler {
	return middleware.Recover(middleware.Logging(middleware.CORS(s.cors)(handler)))
}

// RequireEphemeralToken returns the middleware guarding protocol handshakes
// with a single-use token.
func (s *Service) RequireEphemeralToken() func(http.Handler) http.Handler {
	return middleware.RequireEphemeralToken(s.tokens)
}

// Module provides the auth Service backed by the token service
var Module = fx.Module("auth",
	fx.Provide(func(cors *config.CORSConfig, svc *tokens.Service) *Service {
		return NewService(cors, svc)
	}),
)
