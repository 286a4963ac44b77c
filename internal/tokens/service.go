// Package tokens issues and consumes single-use ephemeral tokens.
package tokens

import (
	"context"
	"errors"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/models"
	"github.com/evogenom/ephemeral-auth/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Verifier exchanges a bearer token for the holder's claims.
type Verifier interface {
	Verify(ctx context.Context, bearerToken string) (models.Claims, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Service issues tokens against verified identities and consumes them once.
type Service struct {
	verifier Verifier
	store    store.Store
	ttl      time.Duration
	clock    Clock
	generate func() (string, error)
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithValueGenerator overrides how token values are produced.
func WithValueGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.generate = fn }
}

// NewService creates a Service. A zero ttl yields tokens that are expired as
// soon as any time passes.
func NewService(verifier Verifier, st store.Store, ttl time.Duration, opts ...Option) *Service {
	if ttl < 0 {
		ttl = 0
	}
	s := &Service{
		verifier: verifier,
		store:    st,
		ttl:      ttl,
		clock:    systemClock{},
		generate: generateValue,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the lifetime applied to issued tokens.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue verifies bearerToken with the identity provider and persists a new
// ephemeral token carrying the returned claims.
func (s *Service) Issue(ctx context.Context, bearerToken string) (*models.EphemeralToken, error) {
	const op = "tokens.Issue"

	claims, err := s.verifier.Verify(ctx, bearerToken)
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = E(KindUpstreamUnavailable, op, err)
		}
		return nil, err
	}

	value, err := s.generate()
	if err != nil {
		logger.Error("Failed to generate token value", zap.Error(err))
		return nil, E(KindIssuanceFailed, op, err)
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	token := &models.EphemeralToken{
		ID:        uuid.New(),
		Value:     value,
		Claims:    claims,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.store.Insert(ctx, token); err != nil {
		logger.Error("Failed to persist ephemeral token", zap.String("token_id", token.ID.String()), zap.Error(err))
		return nil, E(KindIssuanceFailed, op, err)
	}

	logger.Info("Issued ephemeral token",
		zap.String("token_id", token.ID.String()),
		zap.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}

// Consume redeems a token value for its claims. The token is destroyed before
// its expiry is checked, so an expired token is also removed by the attempt.
func (s *Service) Consume(ctx context.Context, value string) (models.Claims, error) {
	const op = "tokens.Consume"

	if value == "" {
		return nil, E(KindInvalidOrConsumedToken, op, nil)
	}

	token, err := s.store.TakeByValue(ctx, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Debug("Ephemeral token not found")
		} else {
			logger.Error("Failed to consume ephemeral token", zap.Error(err))
		}
		return nil, E(KindInvalidOrConsumedToken, op, err)
	}

	if token.Expired(s.clock.Now()) {
		logger.Info("Rejected expired ephemeral token",
			zap.String("token_id", token.ID.String()),
			zap.Time("expired_at", token.ExpiresAt),
		)
		return nil, E(KindInvalidOrConsumedToken, op, nil)
	}

	logger.Info("Consumed ephemeral token", zap.String("token_id", token.ID.String()))
	return token.Claims, nil
}
