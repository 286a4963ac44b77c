package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/evogenom/ephemeral-auth/internal/auth/constants"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/models"
	"github.com/evogenom/ephemeral-auth/internal/utils"
	"go.uber.org/zap"
)

type authContextKey string

const (
	// bearerContextKey stores the caller's bearer token
	bearerContextKey authContextKey = "bearer"
	// claimsContextKey stores the claims released by a consumed ephemeral token
	claimsContextKey authContextKey = "claims"
)

// Consumer redeems an ephemeral token for the claims it was issued with.
type Consumer interface {
	Consume(ctx context.Context, value string) (models.Claims, error)
}

// RequireBearer rejects requests without an "Authorization: Bearer <token>"
// header and makes the token available through BearerFromContext. The token
// itself is validated by the handler.
func RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearer(r)
		if !ok {
			utils.WriteError(w, constants.ErrCodeNotAuthenticated, constants.MsgNotAuthenticated, http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), bearerContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireEphemeralToken consumes the ephemeral token from the "token" query
// parameter before the wrapped handler runs. The token is gone afterwards
// whatever the handler does.
func RequireEphemeralToken(consumer Consumer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := r.URL.Query().Get(constants.TokenQueryParam)
			if value == "" {
				utils.WriteError(w, constants.ErrCodeInvalidToken, constants.MsgConsumeRejected, http.StatusUnauthorized)
				return
			}

			claims, err := consumer.Consume(r.Context(), value)
			if err != nil {
				logger.Debug("Ephemeral token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				utils.WriteError(w, constants.ErrCodeInvalidToken, constants.MsgConsumeRejected, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerFromContext returns the bearer token stored by RequireBearer.
func BearerFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerContextKey).(string)
	return token, ok && token != ""
}

// ClaimsFromContext returns the claims stored by RequireEphemeralToken.
func ClaimsFromContext(ctx context.Context) (models.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(models.Claims)
	return claims, ok
}

// extractBearer extracts the Bearer token from the Authorization header
func extractBearer(r *http.Request) (string, bool) {
	authHeader := r.Header.Get(constants.AuthHeaderName)
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, constants.TokenType) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
