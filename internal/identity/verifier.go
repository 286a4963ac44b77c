// Package identity verifies bearer tokens against an OpenID Connect provider's
// userinfo endpoint.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/evogenom/ephemeral-auth/internal/auth/constants"
	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/models"
	"github.com/evogenom/ephemeral-auth/internal/tokens"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// maxBodyBytes bounds discovery and userinfo responses.
const maxBodyBytes = 1 << 20

type cachedEndpoint struct {
	url       string
	fetchedAt time.Time
}

// OIDCVerifier resolves the userinfo endpoint from the provider's discovery
// document and exchanges bearer tokens for claims there.
type OIDCVerifier struct {
	discoveryURL string
	cacheTTL     time.Duration
	client       *http.Client
	now          func() time.Time

	endpoint atomic.Pointer[cachedEndpoint]
	group    singleflight.Group
}

var _ tokens.Verifier = (*OIDCVerifier)(nil)

type Option func(*OIDCVerifier)

// WithHTTPClient replaces the outbound client. Its timeout bounds every call.
func WithHTTPClient(c *http.Client) Option {
	return func(v *OIDCVerifier) { v.client = c }
}

// WithNow overrides the clock used for cache expiry.
func WithNow(now func() time.Time) Option {
	return func(v *OIDCVerifier) { v.now = now }
}

func NewOIDCVerifier(cfg *config.IdentityConfig, opts ...Option) *OIDCVerifier {
	v := &OIDCVerifier{
		discoveryURL: cfg.DiscoveryURL,
		cacheTTL:     cfg.EndpointCacheTTL,
		client:       &http.Client{Timeout: cfg.RequestTimeout},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ResolveUserinfoEndpoint returns the cached userinfo endpoint, fetching the
// discovery document when the cache is empty or older than the TTL.
func (v *OIDCVerifier) ResolveUserinfoEndpoint(ctx context.Context) (string, error) {
	if c := v.endpoint.Load(); c != nil && v.now().Sub(c.fetchedAt) < v.cacheTTL {
		return c.url, nil
	}

	// The shared fetch must not fail for every waiter when the first caller
	// goes away; the client timeout still bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	res, err, _ := v.group.Do("userinfo_endpoint", func() (any, error) {
		endpoint, err := v.fetchUserinfoEndpoint(fetchCtx)
		if err != nil {
			return "", err
		}
		v.endpoint.Store(&cachedEndpoint{url: endpoint, fetchedAt: v.now()})
		logger.Info("Resolved userinfo endpoint", zap.String("endpoint", endpoint))
		return endpoint, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (v *OIDCVerifier) fetchUserinfoEndpoint(ctx context.Context) (string, error) {
	const op = "identity.ResolveUserinfoEndpoint"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.discoveryURL, nil)
	if err != nil {
		return "", tokens.E(tokens.KindUpstreamUnavailable, op, fmt.Errorf("build discovery request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		logger.Warn("Discovery document unreachable", zap.String("url", v.discoveryURL), zap.Error(err))
		return "", tokens.E(tokens.KindUpstreamUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		logger.Warn("Discovery document request failed", zap.String("url", v.discoveryURL), zap.Int("status", resp.StatusCode))
		return "", tokens.E(tokens.KindUpstreamUnavailable, op, fmt.Errorf("discovery document returned status %d", resp.StatusCode))
	}

	var doc oidc.ProviderConfig
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&doc); err != nil {
		return "", tokens.E(tokens.KindUpstreamUnavailable, op, fmt.Errorf("decode discovery document: %w", err))
	}
	if doc.UserInfoURL == "" {
		return "", tokens.E(tokens.KindUpstreamUnavailable, op, errors.New("discovery document has no userinfo_endpoint"))
	}
	return doc.UserInfoURL, nil
}

// Verify calls the userinfo endpoint with bearerToken and returns the claims.
// A non-200 answer means the provider rejected the token; failing to reach
// the provider, or an unusable 200 body, is reported as upstream unavailable.
func (v *OIDCVerifier) Verify(ctx context.Context, bearerToken string) (models.Claims, error) {
	const op = "identity.Verify"

	if bearerToken == "" {
		return nil, tokens.E(tokens.KindInvalidToken, op, errors.New("empty bearer token"))
	}

	endpoint, err := v.ResolveUserinfoEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: bearerToken,
		TokenType:   constants.TokenType,
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, tokens.E(tokens.KindUpstreamUnavailable, op, fmt.Errorf("build userinfo request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("Userinfo endpoint unreachable", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, tokens.E(tokens.KindUpstreamUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		logger.Debug("Userinfo rejected bearer token", zap.Int("status", resp.StatusCode))
		return nil, tokens.E(tokens.KindInvalidToken, op, fmt.Errorf("userinfo returned status %d", resp.StatusCode))
	}

	var claims models.Claims
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return nil, tokens.E(tokens.KindUpstreamUnavailable, op, fmt.Errorf("decode userinfo response: %w", err))
	}
	if claims == nil {
		return nil, tokens.E(tokens.KindUpstreamUnavailable, op, errors.New("userinfo response is not a JSON object"))
	}
	return claims, nil
}
