// Package apidoc builds and serves the OpenAPI description of the HTTP API.
package apidoc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/evogenom/ephemeral-auth/internal/auth/constants"
	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/utils"
	"github.com/getkin/kin-openapi/openapi3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const bearerScheme = "bearerAuth"

// Document is a validated OpenAPI document with its JSON encoding.
type Document struct {
	spec *openapi3.T
	raw  []byte
}

// New builds the document for the service and validates it.
func New(app *config.AppConfig, version string) (*Document, error) {
	doc := build(app.Name, version)
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode OpenAPI document: %w", err)
	}
	return &Document{spec: doc, raw: raw}, nil
}

// Spec returns the parsed document.
func (d *Document) Spec() *openapi3.T {
	return d.spec
}

// ServeHTTP serves the document as JSON.
func (d *Document) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		utils.WriteError(w, constants.ErrCodeMethodNotAllowed, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(d.raw); err != nil {
		logger.Debug("Failed to write OpenAPI document", zap.Error(err))
	}
}

func errorResponse(description string) *openapi3.Response {
	schema := openapi3.NewObjectSchema().
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("error_description", openapi3.NewStringSchema())
	schema.Required = []string{"error", "error_description"}
	return openapi3.NewResponse().WithDescription(description).WithJSONSchema(schema)
}

func build(title, version string) *openapi3.T {
	tokenSchema := openapi3.NewObjectSchema().WithProperty("token", openapi3.NewStringSchema())
	tokenSchema.Required = []string{"token"}

	handshakeSchema := openapi3.NewObjectSchema().WithProperty("claims", openapi3.NewObjectSchema())
	handshakeSchema.Required = []string{"claims"}

	healthSchema := openapi3.NewObjectSchema().WithProperty("status", openapi3.NewStringSchema())

	issue := openapi3.NewOperation()
	issue.OperationID = "issueEphemeralToken"
	issue.Summary = "Exchange a provider access token for a single-use ephemeral token"
	issue.Tags = []string{"auth"}
	issue.Security = openapi3.NewSecurityRequirements().With(openapi3.NewSecurityRequirement().Authenticate(bearerScheme))
	issue.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: openapi3.NewResponse().
			WithDescription("Ephemeral token issued").
			WithJSONSchema(tokenSchema)}),
		openapi3.WithStatus(http.StatusUnauthorized, &openapi3.ResponseRef{Value: errorResponse("Bearer token rejected by the identity provider")}),
		openapi3.WithStatus(http.StatusForbidden, &openapi3.ResponseRef{Value: errorResponse("Missing bearer token")}),
		openapi3.WithStatus(http.StatusInternalServerError, &openapi3.ResponseRef{Value: errorResponse("Token could not be issued")}),
		openapi3.WithStatus(http.StatusServiceUnavailable, &openapi3.ResponseRef{Value: errorResponse("Identity provider unavailable")}),
	)

	handshake := openapi3.NewOperation()
	handshake.OperationID = "consumeEphemeralToken"
	handshake.Summary = "Consume an ephemeral token and return the claims it was issued with"
	handshake.Tags = []string{"auth"}
	handshake.AddParameter(openapi3.NewQueryParameter(constants.TokenQueryParam).
		WithDescription("Ephemeral token value").
		WithRequired(true).
		WithSchema(openapi3.NewStringSchema()))
	handshake.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: openapi3.NewResponse().
			WithDescription("Token consumed").
			WithJSONSchema(handshakeSchema)}),
		openapi3.WithStatus(http.StatusUnauthorized, &openapi3.ResponseRef{Value: errorResponse("Token consumed, or not found, or expired")}),
	)

	health := openapi3.NewOperation()
	health.OperationID = "health"
	health.Summary = "Liveness probe"
	health.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: openapi3.NewResponse().
			WithDescription("Service is up").
			WithJSONSchema(healthSchema)}),
	)

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   title,
			Version: version,
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath(constants.TokenPath, &openapi3.PathItem{Post: issue}),
			openapi3.WithPath(constants.HandshakePath, &openapi3.PathItem{Get: handshake}),
			openapi3.WithPath(constants.HealthPath, &openapi3.PathItem{Get: health}),
		),
		Components: &openapi3.Components{
			SecuritySchemes: openapi3.SecuritySchemes{
				bearerScheme: &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
			},
		},
	}
}

// Module provides the OpenAPI document
var Module = fx.Module("apidoc",
	fx.Provide(func(cfg *config.Config) (*Document, error) {
		return New(&cfg.App, config.Version())
	}),
)
