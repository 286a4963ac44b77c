package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/models"
	"github.com/evogenom/ephemeral-auth/internal/server"
	"github.com/evogenom/ephemeral-auth/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// newIdentityProvider serves a discovery document and a userinfo endpoint that
// accepts the bearer tokens "alice-access-token" and "bob-access-token".
func newIdentityProvider(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":            srv.URL,
			"userinfo_endpoint": srv.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		var body string
		switch r.Header.Get("Authorization") {
		case "Bearer alice-access-token":
			body = `{"sub":"alice","email":"alice@example.com","groups":["staff"]}`
		case "Bearer bob-access-token":
			body = `{"numeric_id":12345678901234567,"sub":"bob"}`
		default:
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, discoveryURL string, ttl time.Duration) *config.Config {
	t.Helper()
	cfg, err := config.Load(nil)
	require.NoError(t, err)

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Identity.DiscoveryURL = discoveryURL
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.DSN = filepath.Join(t.TempDir(), "tokens.db")
	cfg.Tokens.TTL = ttl
	return cfg
}

type running struct {
	baseURL string
	store   store.Store
}

func start(t *testing.T, cfg *config.Config) running {
	t.Helper()
	var (
		srv *server.Server
		st  store.Store
	)
	app := fxtest.New(t, Options(cfg), fx.Populate(&srv, &st))
	app.RequireStart()
	t.Cleanup(app.RequireStop)
	return running{baseURL: "http://" + srv.Addr(), store: st}
}

func (r running) issue(t *testing.T, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, r.baseURL+"/auth/token", nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	if resp.StatusCode == http.StatusOK {
		return resp.StatusCode, body.Token
	}
	return resp.StatusCode, body.Error
}

func (r running) handshake(t *testing.T, token string) (int, models.Claims) {
	t.Helper()
	resp, err := http.Get(r.baseURL + "/auth/handshake?token=" + url.QueryEscape(token))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Claims models.Claims `json:"claims"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body.Claims
}

func TestIssueThenConsumeOverHTTP(t *testing.T) {
	idp := newIdentityProvider(t)
	r := start(t, testConfig(t, idp.URL+"/.well-known/openid-configuration", 5*time.Minute))

	status, token := r.issue(t, "alice-access-token")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, token, 64)

	status, claims := r.handshake(t, token)
	require.Equal(t, http.StatusOK, status)
	want := models.Claims{"sub": "alice", "email": "alice@example.com", "groups": []any{"staff"}}
	if diff := cmp.Diff(want, claims); diff != "" {
		t.Errorf("claims mismatch (-want +got):\n%s", diff)
	}

	status, _ = r.handshake(t, token)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestClaimsSurviveVerbatim(t *testing.T) {
	idp := newIdentityProvider(t)
	r := start(t, testConfig(t, idp.URL+"/.well-known/openid-configuration", time.Minute))

	status, token := r.issue(t, "bob-access-token")
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(r.baseURL + "/auth/handshake?token=" + url.QueryEscape(token))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"claims":{"numeric_id":12345678901234567,"sub":"bob"}}`, string(raw))
	assert.Contains(t, string(raw), `"numeric_id":12345678901234567`)
}

func TestNeverIssuedToken(t *testing.T) {
	idp := newIdentityProvider(t)
	r := start(t, testConfig(t, idp.URL+"/.well-known/openid-configuration", time.Minute))

	status, _ := r.handshake(t, "never-issued")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRejectedBearerPersistsNothing(t *testing.T) {
	idp := newIdentityProvider(t)
	r := start(t, testConfig(t, idp.URL+"/.well-known/openid-configuration", time.Minute))

	status, code := r.issue(t, "forged-token")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_token", code)

	status, code = r.issue(t, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_authenticated", code)

	n, err := r.store.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProviderDownIsDistinguished(t *testing.T) {
	idp := newIdentityProvider(t)
	discovery := idp.URL + "/.well-known/openid-configuration"
	idp.Close()

	r := start(t, testConfig(t, discovery, time.Minute))

	status, code := r.issue(t, "alice-access-token")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "upstream_unavailable", code)
}

func TestExpiredTokenIsDestroyed(t *testing.T) {
	idp := newIdentityProvider(t)
	r := start(t, testConfig(t, idp.URL+"/.well-known/openid-configuration", time.Millisecond))

	status, token := r.issue(t, "alice-access-token")
	require.Equal(t, http.StatusOK, status)

	time.Sleep(20 * time.Millisecond)

	status, _ = r.handshake(t, token)
	assert.Equal(t, http.StatusUnauthorized, status)

	n, err := r.store.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentHandshakesSingleWinner(t *testing.T) {
	idp := newIdentityProvider(t)
	r := start(t, testConfig(t, idp.URL+"/.well-known/openid-configuration", time.Minute))

	status, token := r.issue(t, "alice-access-token")
	require.Equal(t, http.StatusOK, status)

	const callers = 10
	statuses := make([]int, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(r.baseURL + "/auth/handshake?token=" + token)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, s := range statuses {
		switch s {
		case http.StatusOK:
			ok++
		case http.StatusUnauthorized:
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, rejected)
}

func TestOpenAPIAndHealth(t *testing.T) {
	idp := newIdentityProvider(t)
	r := start(t, testConfig(t, idp.URL+"/.well-known/openid-configuration", time.Minute))

	resp, err := http.Get(r.baseURL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(r.baseURL + "/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.True(t, strings.HasPrefix(doc["openapi"].(string), "3."))

	resp, err = http.Get(r.baseURL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
