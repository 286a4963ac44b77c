// Package handler assembles the HTTP routing tree.
package handler

import (
	"net/http"

	"github.com/evogenom/ephemeral-auth/internal/apidoc"
	"github.com/evogenom/ephemeral-auth/internal/auth"
	"github.com/evogenom/ephemeral-auth/internal/auth/constants"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/utils"
)

// Handler manages HTTP request handling and middleware configuration.
type Handler struct {
	auth *auth.Service
	doc  *apidoc.Document
}

// NewHandler creates a new HTTP handler.
func NewHandler(auth *auth.Service, doc *apidoc.Document) *Handler {
	return &Handler{
		auth: auth,
		doc:  doc,
	}
}

// CreateHTTPHandler creates an HTTP handler with the token routes, the API
// document and the middleware stack.
func (h *Handler) CreateHTTPHandler() http.Handler {
	mux := http.NewServeMux()

	h.auth.RegisterRoutes(mux)
	logger.Info("Registered authentication routes")

	if h.doc != nil {
		mux.Handle(constants.OpenAPIPath, h.doc)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, "not_found", "Not found", http.StatusNotFound)
	})

	return h.auth.WrapWithMiddleware(mux)
}
