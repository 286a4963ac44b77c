package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/models"
	"github.com/evogenom/ephemeral-auth/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConsumer struct {
	valid map[string]models.Claims
	calls int
}

func (s *stubConsumer) Consume(_ context.Context, value string) (models.Claims, error) {
	s.calls++
	claims, ok := s.valid[value]
	if !ok {
		return nil, errors.New("consumed or unknown")
	}
	delete(s.valid, value)
	return claims, nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var body utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequireBearer(t *testing.T) {
	var seen string
	h := RequireBearer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = BearerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantToken  string
	}{
		{name: "valid", header: "Bearer abc.def", wantStatus: http.StatusNoContent, wantToken: "abc.def"},
		{name: "lowercase scheme", header: "bearer abc", wantStatus: http.StatusNoContent, wantToken: "abc"},
		{name: "missing", header: "", wantStatus: http.StatusForbidden},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusForbidden},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusForbidden},
		{name: "no separator", header: "Bearer", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantToken, seen)
			if tt.wantStatus == http.StatusForbidden {
				body := decodeError(t, rec)
				assert.Equal(t, "not_authenticated", body.Error)
				assert.Equal(t, "Not authenticated", body.ErrorDescription)
			}
		})
	}
}

func TestRequireEphemeralToken(t *testing.T) {
	consumer := &stubConsumer{valid: map[string]models.Claims{"tok-1": {"sub": "alice"}}}
	h := RequireEphemeralToken(consumer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		utils.WriteJSON(w, claims)
	}))

	serve := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := serve("/auth/handshake?token=tok-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sub":"alice"}`, rec.Body.String())

	rec = serve("/auth/handshake?token=tok-1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token consumed, or not found, or expired", decodeError(t, rec).ErrorDescription)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	calls := consumer.calls
	rec = serve("/auth/handshake")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, calls, consumer.calls, "missing token must not reach the consumer")
}

func TestContextAccessorsWithoutMiddleware(t *testing.T) {
	_, ok := BearerFromContext(context.Background())
	assert.False(t, ok)
	_, ok = ClaimsFromContext(context.Background())
	assert.False(t, ok)
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("wildcard", func(t *testing.T) {
		h := CORS(config.CORSConfig{AllowOrigins: []string{"*"}})(next)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://anything.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("allow list", func(t *testing.T) {
		h := CORS(config.CORSConfig{
			AllowOrigins: []string{"https://app.example.com"},
			AllowMethods: []string{"GET", "POST"},
		})(next)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		h := CORS(config.CORSConfig{})(next)
		req := httptest.NewRequest(http.MethodOptions, "/auth/token", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestLoggingCapturesStatus(t *testing.T) {
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "server_error", decodeError(t, rec).Error)
}

func TestMethodOnly(t *testing.T) {
	called := false
	h := MethodOnly(http.MethodGet, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/handshake?token=x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
	assert.False(t, called)
}
