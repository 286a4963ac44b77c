package handlers

import (
	"context"
	"net/http"

	"github.com/evogenom/ephemeral-auth/internal/auth/constants"
	"github.com/evogenom/ephemeral-auth/internal/auth/middleware"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/models"
	"github.com/evogenom/ephemeral-auth/internal/tokens"
	"github.com/evogenom/ephemeral-auth/internal/utils"
	"go.uber.org/zap"
)

// Issuer issues ephemeral tokens to verified bearer token holders.
type Issuer interface {
	Issue(ctx context.Context, bearerToken string) (*models.EphemeralToken, error)
}

// TokenResponse is the body of a successful POST /auth/token.
type TokenResponse struct {
	Token string `json:"token"`
}

// HandshakeResponse is the body of a successful GET /auth/handshake.
type HandshakeResponse struct {
	Claims models.Claims `json:"claims"`
}

// Handler handles the ephemeral token HTTP endpoints
type Handler struct {
	issuer Issuer
}

// NewHandler creates a new Handler instance
func NewHandler(issuer Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// HandleIssueToken handles POST /auth/token. It expects RequireBearer to have
// run first.
func (h *Handler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	bearer, ok := middleware.BearerFromContext(r.Context())
	if !ok {
		utils.WriteError(w, constants.ErrCodeNotAuthenticated, constants.MsgNotAuthenticated, http.StatusForbidden)
		return
	}

	token, err := h.issuer.Issue(r.Context(), bearer)
	if err != nil {
		status, code, msg := issueErrorResponse(err)
		if status >= http.StatusInternalServerError {
			logger.Warn("Ephemeral token issuance failed", zap.Int("status", status), zap.Error(err))
		}
		utils.WriteError(w, code, msg, status)
		return
	}

	utils.WriteJSON(w, TokenResponse{Token: token.Value})
}

// HandleHandshake handles GET /auth/handshake. RequireEphemeralToken has
// already consumed the token and stored its claims.
func (h *Handler) HandleHandshake(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		utils.WriteError(w, constants.ErrCodeInvalidToken, constants.MsgConsumeRejected, http.StatusUnauthorized)
		return
	}
	utils.WriteJSON(w, HandshakeResponse{Claims: claims})
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, map[string]string{"status": "ok"})
}

func issueErrorResponse(err error) (int, string, string) {
	switch tokens.KindOf(err) {
	case tokens.KindInvalidToken:
		return http.StatusUnauthorized, constants.ErrCodeInvalidToken, constants.MsgIssueRejected
	case tokens.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable, constants.ErrCodeUpstreamUnavailable, constants.MsgUpstreamUnavailable
	default:
		return http.StatusInternalServerError, constants.ErrCodeServerError, constants.MsgIssuanceFailed
	}
}
